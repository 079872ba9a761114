// Package logging builds the process logger: tint text on a terminal or
// pipe, or slog's JSON handler for machine consumers.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// TimeFormat is time.TimeOnly plus milliseconds.
const TimeFormat = "15:04:05.000"

// ParseLevel maps debug, info, warn (or warning) and error to a slog level.
// The empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to w. Colour is used only when w is a
// terminal. The returned LevelVar may be changed while the logger is in use.
func New(w io.Writer, level, format string) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	ll := &slog.LevelVar{}
	ll.Set(lvl)

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ll})), ll, nil
	case "text", "":
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	// systemd stamps every line itself.
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	h := tint.NewHandler(w, &tint.Options{
		Level:      ll,
		TimeFormat: TimeFormat,
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(h), ll, nil
}
