package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger: JSON to stdout, since batch runs are read
// through log aggregation rather than a terminal.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
