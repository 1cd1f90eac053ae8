package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Output formats.
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatPretty = "pretty"
)

// Options configures New.
type Options struct {
	Format string
	Level  *slog.LevelVar
}

// New builds the process logger. json and text use the slog handlers;
// pretty uses charmbracelet/log for terminal output. Every variant is wrapped
// in a CorrelationHandler gated by opts.Level.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level := opts.Level
	if level == nil {
		level = new(slog.LevelVar)
	}

	var inner slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	case FormatText:
		inner = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	case FormatPretty:
		inner = charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      "15:04:05.00",
			Level:           charmlog.DebugLevel,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q (want json, text or pretty)", opts.Format)
	}

	return slog.New(NewCorrelationHandler(inner).WithLevel(level)), nil
}

// ParseLevel maps debug|info|warn|error to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
