package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("trace")
	require.ErrorContains(t, err, `"trace"`)
}

func TestNewText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lg, ll, err := New(&buf, "warn", "text")
	require.NoError(t, err)

	lg.Info("hidden")
	lg.Warn("writer: batch failed", "rows", 3)
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "writer: batch failed")
	require.Contains(t, out, "rows=3")
	// Not a terminal: no ANSI escapes.
	require.NotContains(t, out, "\x1b[")

	ll.Set(slog.LevelDebug)
	lg.Debug("now visible")
	require.Contains(t, buf.String(), "now visible")
}

func TestNewJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	lg, _, err := New(&buf, "info", "json")
	require.NoError(t, err)
	lg.Info("run: done", "rows", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &rec))
	require.Equal(t, "run: done", rec["msg"])
	require.Equal(t, float64(7), rec["rows"])
}

func TestNewRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, _, err := New(&bytes.Buffer{}, "info", "xml")
	require.ErrorContains(t, err, "xml")
	_, _, err = New(&bytes.Buffer{}, "loud", "text")
	require.ErrorContains(t, err, "loud")
}
