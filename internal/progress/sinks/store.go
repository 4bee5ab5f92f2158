package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/progress"
	"github.com/JakeFAU/nested-progress/internal/store"
)

// StoreSink persists run lifecycles via a store.RunRepository. Progress events
// are collapsed to the latest one per run within a batch to reduce write
// amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository. It respects ctx deadlines and
// returns the first repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[uuid.UUID]progress.Event)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.Name, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageProgress:
			latest[runID] = evt
		case progress.StageRunDone, progress.StageRunError:
			if pending, ok := latest[runID]; ok {
				if err := s.writeProgress(ctx, pending); err != nil {
					return err
				}
				delete(latest, runID)
			}
			if err := s.complete(ctx, runID, evt); err != nil {
				return err
			}
		}
	}

	for _, evt := range latest {
		if err := s.writeProgress(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) writeProgress(ctx context.Context, evt progress.Event) error {
	if err := s.repo.UpdateRunProgress(ctx, evt.RunUUID(), evt.Fraction, evt.Description, evt.TS); err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note != "" {
			note = &evt.Note
		}
	}
	if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run persisted", zap.Stringer("run_id", runID), zap.String("status", string(status)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
