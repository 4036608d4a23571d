package report_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/pmemtrace/core"
	"github.com/INLOpen/pmemtrace/internal/testutil"
	"github.com/INLOpen/pmemtrace/report"
)

func TestWriteDumpCountsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	f := &testutil.StackProvider{}

	dirty := []report.Entry{
		{Addr: 0x1000, File: "data.bin", Stack: core.StackID(1)},
		{Addr: 0x1040, File: "data.bin", Stack: core.StackID(1)},
		{Addr: 0x2000, File: "data.bin", Stack: core.StackID(2)},
	}
	unfenced := []report.Entry{
		{Addr: 0x3000, File: "log.bin", Stack: core.StackID(3)},
	}

	require.NoError(t, report.WriteDump(&buf, dirty, unfenced, f))
	out := buf.String()

	// Counts cover every leaked line; the stack listing is deduplicated.
	assert.Contains(t, out, "Number of cache-lines not made persistent: 3\n")
	assert.Contains(t, out, "Number of cache-lines flushed but not fenced: 1\n")
	assert.Equal(t, 1, strings.Count(out, "at stack#1"))
	assert.Equal(t, 1, strings.Count(out, "at stack#2"))
	assert.Equal(t, 1, strings.Count(out, "at stack#3"))
	assert.Contains(t, out, "['data.bin']\n")
	assert.Contains(t, out, "['log.bin']\n")
	assert.Equal(t, 6, strings.Count(out, "~~~~~~~~~~~~~~~\n"))
}

func TestWriteDumpEmptyState(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, report.WriteDump(&buf, nil, nil, &testutil.StackProvider{}))
	assert.Equal(t,
		"Number of cache-lines not made persistent: 0\n"+
			"Number of cache-lines flushed but not fenced: 0\n",
		buf.String())
}

func TestWriteDumpOrphanedEntry(t *testing.T) {
	var buf bytes.Buffer
	entries := []report.Entry{{Addr: 0x1000, Stack: core.StackID(5)}}
	require.NoError(t, report.WriteDump(&buf, entries, nil, &testutil.StackProvider{}))
	assert.Contains(t, buf.String(), "['<unregistered>']\n")
}
