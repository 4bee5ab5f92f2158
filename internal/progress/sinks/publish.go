package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/progress"
	"github.com/JakeFAU/nested-progress/internal/publisher"
	"github.com/JakeFAU/nested-progress/internal/telemetry"
)

// RunCompleted is the notification published when a run finishes.
type RunCompleted struct {
	RunID       string    `json:"run_id"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status"`
	Fraction    float64   `json:"fraction"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Attributes exposes the run ID and status as message attributes.
func (r RunCompleted) Attributes() map[string]string {
	return map[string]string{"run_id": r.RunID, "status": r.Status}
}

// PublishSink publishes a RunCompleted notification for every finished run.
// The run's trace context travels with the publish so the publisher can
// attach it to the message.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger

	mu   sync.Mutex
	runs map[uuid.UUID]RunCompleted
}

// NewPublishSink publishes to topic through pub.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{
		pub:    pub,
		topic:  topic,
		logger: logger,
		runs:   make(map[uuid.UUID]RunCompleted),
	}
}

// Consume tracks run state and publishes on completion.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			s.mu.Lock()
			s.runs[runID] = RunCompleted{RunID: runID.String(), Name: evt.Name}
			s.mu.Unlock()
		case progress.StageProgress:
			s.mu.Lock()
			msg, ok := s.runs[runID]
			if ok {
				msg.Fraction = evt.Fraction
				msg.Description = evt.Description
				s.runs[runID] = msg
			}
			s.mu.Unlock()
		case progress.StageRunDone, progress.StageRunError:
			errs = append(errs, s.publish(ctx, runID, evt))
		}
	}
	return errors.Join(errs...)
}

func (s *PublishSink) publish(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	s.mu.Lock()
	msg, ok := s.runs[runID]
	delete(s.runs, runID)
	s.mu.Unlock()
	if !ok {
		msg = RunCompleted{RunID: runID.String()}
	}
	msg.Status = "success"
	if evt.Stage == progress.StageRunError {
		msg.Status = "error"
		msg.Error = evt.Note
	}
	msg.DurationMS = evt.Dur.Milliseconds()
	msg.FinishedAt = evt.TS

	id, err := s.pub.Publish(telemetry.Extract(ctx, nil, evt.Trace), s.topic, msg)
	if err != nil {
		return fmt.Errorf("publish run %s: %w", runID, err)
	}
	s.logger.Debug("run completion published", zap.Stringer("run_id", runID), zap.String("message_id", id))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
