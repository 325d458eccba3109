package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredOutputCarriesServiceAndCustomLevels(t *testing.T) {
	var structured, human bytes.Buffer
	SetOutput(&structured, &human)
	SetLevel(LevelTrace)
	t.Cleanup(func() { SetLevel(slog.LevelInfo) })

	ForService("policy").Info("output opened", "output", 13)
	Trace("trace line")

	lines := bytes.Split(bytes.TrimSpace(structured.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "policy", first["service"])
	assert.InDelta(t, 13, first["output"], 0)

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "TRACE", second["level"])
}

func TestSetLevelFiltersExistingLoggers(t *testing.T) {
	var structured, human bytes.Buffer
	SetOutput(&structured, &human)
	logger := ForService("engine")

	SetLevel(slog.LevelWarn)
	t.Cleanup(func() { SetLevel(slog.LevelInfo) })

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, structured.String(), "dropped")
	assert.Contains(t, structured.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"trace":   LevelTrace,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
