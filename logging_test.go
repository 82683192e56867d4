package elevatr

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	for _, tc := range []struct {
		level    string
		expected zerolog.Level
	}{
		{level: "", expected: zerolog.InfoLevel},
		{level: "debug", expected: zerolog.DebugLevel},
		{level: "INFO", expected: zerolog.InfoLevel},
		{level: " warn ", expected: zerolog.WarnLevel},
		{level: "warning", expected: zerolog.WarnLevel},
		{level: "error", expected: zerolog.ErrorLevel},
		{level: "off", expected: zerolog.Disabled},
		{level: "verbose", expected: zerolog.InfoLevel},
	} {
		t.Run(tc.level, func(t *testing.T) {
			assert.Equal(t, tc.expected, ParseLogLevel(tc.level))
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "info", Component: "elevatr"}, buf)
	logger.Debug().Msg("hidden")
	logger.Info().Int("tiles", 9).Msg("fetched")

	var record map[string]any
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "info", record["level"])
	assert.Equal(t, "elevatr", record["component"])
	assert.Equal(t, "fetched", record["message"])
	assert.Equal(t, 9.0, record["tiles"])
	assert.NotZero(t, record["time"])
}

func TestNewLogger_Console(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LogConfig{Level: "warn", Console: true}, buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("tile failed")
	assert.Contains(t, buf.String(), "tile failed")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewRequestID(t *testing.T) {
	a, b := newRequestID(), newRequestID()
	assert.Equal(t, 16, len(a))
	assert.NotEqual(t, a, b)
}
