package sinks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/progress"
	"github.com/JakeFAU/nested-progress/internal/storage"
)

// ArchiveSink collects the log lines of each run and writes them as a plain
// text transcript to a BlobStore once the run finishes.
type ArchiveSink struct {
	blobs  storage.BlobStore
	prefix string
	logger *zap.Logger

	mu   sync.Mutex
	runs map[uuid.UUID]*transcript
}

type transcript struct {
	name  string
	lines bytes.Buffer
}

// NewArchiveSink writes transcripts to blobs under prefix, e.g. "runs/".
func NewArchiveSink(blobs storage.BlobStore, prefix string, logger *zap.Logger) *ArchiveSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveSink{
		blobs:  blobs,
		prefix: prefix,
		logger: logger,
		runs:   make(map[uuid.UUID]*transcript),
	}
}

// ObjectPath returns where the transcript of runID is stored.
func (s *ArchiveSink) ObjectPath(runID uuid.UUID) string {
	return s.prefix + runID.String() + ".log"
}

// Consume buffers log lines and uploads the transcripts of finished runs.
func (s *ArchiveSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.blobs == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			s.lookup(runID).name = evt.Name
		case progress.StageLog:
			t := s.lookup(runID)
			t.lines.WriteString(evt.Note)
			t.lines.WriteByte('\n')
		case progress.StageRunDone:
			errs = append(errs, s.upload(ctx, runID, fmt.Sprintf("status: success (%s)", evt.Dur)))
		case progress.StageRunError:
			errs = append(errs, s.upload(ctx, runID, fmt.Sprintf("status: error (%s): %s", evt.Dur, evt.Note)))
		}
	}
	return errors.Join(errs...)
}

// Close uploads what was collected for runs that never finished.
func (s *ArchiveSink) Close(ctx context.Context) error {
	if s == nil || s.blobs == nil {
		return nil
	}
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		errs = append(errs, s.upload(ctx, id, "status: incomplete"))
	}
	return errors.Join(errs...)
}

func (s *ArchiveSink) lookup(runID uuid.UUID) *transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.runs[runID]
	if !ok {
		t = &transcript{}
		s.runs[runID] = t
	}
	return t
}

func (s *ArchiveSink) upload(ctx context.Context, runID uuid.UUID, trailer string) error {
	s.mu.Lock()
	t, ok := s.runs[runID]
	delete(s.runs, runID)
	s.mu.Unlock()
	if !ok {
		t = &transcript{}
	}

	var body bytes.Buffer
	if t.name != "" {
		fmt.Fprintf(&body, "run: %s %s\n", t.name, runID)
	} else {
		fmt.Fprintf(&body, "run: %s\n", runID)
	}
	body.Write(t.lines.Bytes())
	body.WriteString(trailer)
	body.WriteByte('\n')

	uri, err := s.blobs.PutObject(ctx, s.ObjectPath(runID), "text/plain; charset=utf-8", &body)
	if err != nil {
		return fmt.Errorf("archive run %s: %w", runID, err)
	}
	s.logger.Debug("run transcript archived", zap.Stringer("run_id", runID), zap.String("uri", uri))
	return nil
}
