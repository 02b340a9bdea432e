package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})
	l.With(Fields{"stage": "migrate"}).Info("batch done", Fields{"rows": 10})

	var ev map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ev))
	assert.Equal(t, "info", ev["level"])
	assert.Equal(t, "batch done", ev["message"])
	assert.Equal(t, "migrate", ev["stage"])
	assert.EqualValues(t, 10, ev["rows"])
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})
	l.Info("hidden")
	l.Debug("hidden")
	l.Error("shown", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "boom")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"info":  zerolog.InfoLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestConsoleFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(Config{Format: "console", Output: &buf}).Warn("careful", Fields{"kind": "Tag"})
	out := buf.String()
	assert.True(t, strings.Contains(out, "careful"))
	assert.Contains(t, out, "kind=Tag")
}
