package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("tint"))
	assert.Equal(t, FormatText, ParseFormat("TEXT"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatAuto, ParseFormat("xml"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Resolve(true, "auto", "").Level)
	assert.Equal(t, slog.LevelInfo, Resolve(false, "auto", "").Level)
	assert.Equal(t, slog.LevelError, Resolve(true, "json", "error").Level)
	assert.Equal(t, FormatJSON, Resolve(true, "json", "error").Format)
}

func TestNew_JSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	l, lv := New(Options{Format: FormatAuto, Level: slog.LevelInfo, Writer: &buf})
	assert.False(t, IsTTY(&buf))

	l.Debug("hidden")
	l.Info("shown", "n", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])

	buf.Reset()
	lv.Set(slog.LevelDebug)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Options{Format: FormatText, Level: slog.LevelInfo, Writer: &buf})
	l.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"msg"`)
}
