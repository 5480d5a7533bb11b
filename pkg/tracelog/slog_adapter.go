package tracelog

import (
	"context"
	"log/slog"
)

// SlogAdapter forwards trace events to a slog.Logger at debug level.
// Useful during development to see the lifecycle trace on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to the given logger.
// A nil logger falls back to slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log forwards the event to slog.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("manager", event.ManagerID),
		slog.String("kind", event.Kind),
	}
	if event.AttemptID != "" {
		attrs = append(attrs, slog.String("attempt", event.AttemptID))
	}
	if event.Serial != "" {
		attrs = append(attrs, slog.String("serial", event.Serial))
	}
	if event.Message != "" {
		attrs = append(attrs, slog.String("message", event.Message))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if len(event.Readers) > 0 {
		attrs = append(attrs, slog.Any("readers", event.Readers))
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "trace", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
