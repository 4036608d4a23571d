package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/pmemtrace/config"
	"github.com/INLOpen/pmemtrace/engine"
)

func newReplayEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Verifier.Path = "" // no crash simulation during replay tests

	eng, err := engine.New(engine.Options{Config: cfg, ShutdownTo: io.Discard})
	require.NoError(t, err)
	return eng
}

func TestReplayDrivesEngine(t *testing.T) {
	eng := newReplayEngine(t)
	backing := filepath.Join(t.TempDir(), "data.bin")

	trace := strings.Join([]string{
		"# comment and blank lines are skipped",
		"",
		"register " + backing + " 0x10000 4096",
		"store 1 0x10000 deadbeef",
		"flush 1 0x10000",
		"fence 1",
		"store 1 0x10040 aa",
		"flushfence 1 0x10040",
	}, "\n")

	replay(strings.NewReader(trace), eng, slog.New(slog.NewTextHandler(io.Discard, nil)))

	data, err := os.ReadFile(backing)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data[:4])
	assert.Equal(t, byte(0xaa), data[64])
	assert.Equal(t, 0, eng.DirtyLines())
	assert.Equal(t, 0, eng.UnfencedLines())
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	eng := newReplayEngine(t)
	backing := filepath.Join(t.TempDir(), "data.bin")

	trace := strings.Join([]string{
		"register " + backing + " 0x10000 4096",
		"register",           // missing arguments
		"store 1 0x10000 zz", // bad hex data
		"store x 0x10000 aa", // bad tid
		"prefetch 1 0x1000",  // unknown event
		"store 1 0x10000 bb", // still applied
	}, "\n")

	replay(strings.NewReader(trace), eng, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, 1, eng.DirtyLines())
}

func TestParseAddr(t *testing.T) {
	addr, err := parseAddr("0x1f00")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1f00), addr)

	addr, err = parseAddr("1f00")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1f00), addr)

	_, err = parseAddr("not-hex")
	assert.Error(t, err)
}

func TestCreateLoggerValidation(t *testing.T) {
	_, _, err := createLogger(config.LoggingConfig{Level: "verbose", Output: "stdout"})
	assert.Error(t, err)

	_, _, err = createLogger(config.LoggingConfig{Level: "info", Output: "file"})
	assert.Error(t, err)

	logger, closer, err := createLogger(config.LoggingConfig{Level: "info", Output: "none"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.NotNil(t, logger)
}
