package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: slog.LevelDebug})

	logger.Info("log file", "path", "logs/trace.log")
	logger.Error("building store", "err", "exit with no open call")
	logger.Debug("empty", "v", "")
	logger.With("backend", "sqlite").WithGroup("stats").Info("records created", "count", 3)

	assert.Equal(t, `INFO: log file path=logs/trace.log
ERROR: building store err="exit with no open call"
DEBUG: empty v=""
INFO: records created backend=sqlite stats.count=3
`, buf.String())
}

func TestHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Level: LevelFor(true, true)})

	logger.Info("hidden")
	logger.Debug("hidden too")
	logger.Warn("odd")
	logger.Error("shown")
	assert.Equal(t, "WARN: odd\nERROR: shown\n", buf.String())

	assert.Equal(t, slog.LevelDebug, LevelFor(false, true))
	assert.Equal(t, slog.LevelInfo, LevelFor(false, false))
}

func TestHandlerColor(t *testing.T) {
	var plain, colored bytes.Buffer
	New(&plain, Options{}).Info("x")
	New(&colored, Options{Color: true}).Info("x")

	assert.Equal(t, "INFO: x\n", plain.String())
	assert.Contains(t, colored.String(), "\x1b[")
	assert.Contains(t, colored.String(), "INFO:")
}

func TestColorMode(t *testing.T) {
	m, err := ParseColorMode("ON")
	require.NoError(t, err)
	assert.Equal(t, ColorOn, m)

	_, err = ParseColorMode("sometimes")
	assert.Error(t, err)

	var buf bytes.Buffer
	assert.True(t, ColorOn.Enabled(&buf))
	assert.False(t, ColorOff.Enabled(&buf))
	assert.False(t, ColorAuto.Enabled(&buf))
}
