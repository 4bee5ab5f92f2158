package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/progress"
)

// LogSink emits structured logs for every run event.
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

// Consume logs each event in the batch using structured fields. Log lines are
// written at debug level and failures at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.logger.Info("run started", append(fields, zap.String("name", evt.Name))...)
		case progress.StageProgress:
			s.logger.Info("run progress", append(fields,
				zap.Float64("fraction", evt.Fraction),
				zap.String("description", evt.Description),
			)...)
		case progress.StageLog:
			s.logger.Debug(evt.Note, fields...)
		case progress.StageRunDone:
			s.logger.Info("run finished", append(fields, zap.Duration("dur", evt.Dur))...)
		case progress.StageRunError:
			s.logger.Warn("run failed", append(fields,
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
