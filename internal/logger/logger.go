package logger

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// ParseLevel maps a LOG_LEVEL value to a slog level. ok is false for values it
// does not recognise, in which case Info is returned.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New builds a JSON logger writing to w and installs it as the slog default.
func New(w io.Writer, levelStr string) *slog.Logger {
	level, ok := ParseLevel(levelStr)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	l := slog.New(slog.NewJSONHandler(w, opts))
	slog.SetDefault(l)
	if !ok {
		l.Warn("invalid LOG_LEVEL, defaulting to info", "configured_level", levelStr)
	}
	return l
}
