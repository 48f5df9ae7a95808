package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/events"
)

// LogSink emits structured logs for debugging event streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("account_id", evt.AccountID),
			zap.String("kind", string(evt.Kind)),
			zap.String("status", evt.Status),
			zap.Time("ts", evt.TS),
		}
		if evt.Kind == events.KindBusy || evt.Kind == events.KindSummary {
			fields = append(fields, zap.Float64("progress", evt.Progress))
		}
		if evt.Message != "" {
			fields = append(fields, zap.String("message", evt.Message))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("connection event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
