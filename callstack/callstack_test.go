package callstack

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/pmemtrace/core"
)

func captureHere(d *Depot) core.StackID {
	return d.Capture(0)
}

func TestCaptureDeduplicatesSameSite(t *testing.T) {
	d := NewDepot()

	var ids []core.StackID
	for i := 0; i < 3; i++ {
		ids = append(ids, captureHere(d))
	}
	require.NotZero(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])
}

func TestCaptureDistinguishesCallers(t *testing.T) {
	d := NewDepot()
	a := func() core.StackID { return captureHere(d) }()
	b := func() core.StackID { return captureHere(d) }()
	assert.NotEqual(t, a, b)
}

func TestFormatUsesAtByPrefixes(t *testing.T) {
	d := NewDepot()
	id := captureHere(d)

	out := d.Format(id)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.NotEmpty(t, lines)

	assert.True(t, strings.HasPrefix(lines[0], "   at "))
	assert.Contains(t, lines[0], "captureHere")
	for _, line := range lines[1:] {
		assert.True(t, strings.HasPrefix(line, "   by "), "line %q", line)
	}
}

func TestFormatUnknownID(t *testing.T) {
	d := NewDepot()
	assert.Equal(t, "   at <unknown>\n", d.Format(core.StackID(12345)))
}
