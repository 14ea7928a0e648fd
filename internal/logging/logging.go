package logging

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide JSON logger at the configured level.
// Every line carries the service name; subsystems derive their own child
// via Component. Unrecognized level strings fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With("service", "examguard")
}

// Component derives a child logger tagged with the subsystem name. A nil
// parent yields a discard logger, never nil.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger.With("component", name)
}
