package events

import (
	"context"
	"log/slog"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: slog.LevelInfo}
}

func (s *LogSink) Publish(ctx context.Context, e Event) error {
	level := s.level
	switch e.(type) {
	case RunProgress, ProductCreated:
		level = slog.LevelDebug
	case RunFailed:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "event", "type", e.Type(), "aggregate_id", e.AggregateID(), "payload", e)
	return nil
}
