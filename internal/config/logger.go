package config

import (
	"io"
	"log/slog"
)

// NewLogger builds the process logger from the log section. Unknown
// levels fall back to info; Validate reports them earlier.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := l.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
