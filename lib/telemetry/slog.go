package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog sets the default slog handler for CLIs and daemons,
// verbose enables debug-level output.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
