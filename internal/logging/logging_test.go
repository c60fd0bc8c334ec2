package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_AllLogLevels(t *testing.T) {
	cases := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		New(Config{Level: tc.level})
		assert.Equal(t, tc.expected, zerolog.GlobalLevel())
	}
}

func TestNew_LoggerWritesMessageToOutput(t *testing.T) {
	logger := New(Config{Level: "info"})
	var buf bytes.Buffer
	logger = logger.Output(&buf)
	logger.Info().Msg("hello")

	assert.Contains(t, buf.String(), "hello")
}

func TestNew_ErrorLevelFiltersLower(t *testing.T) {
	logger := New(Config{Level: "error"})
	var buf bytes.Buffer
	logger = logger.Output(&buf)

	logger.Info().Msg("should not appear")
	assert.NotContains(t, buf.String(), "should not appear")

	logger.Error().Msg("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestNew_FilePathEnablesRotatingSink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "liqbot.log")

	logger := New(Config{Level: "info", FilePath: path})
	logger.Info().Msg("rotated line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotated line")
}

func TestSetGlobal_ReplacesPackageLevelLogger(t *testing.T) {
	logger := New(Config{Level: "debug"})
	SetGlobal(logger)
	assert.Equal(t, logger, log.Logger)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
