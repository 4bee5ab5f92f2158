package sinks

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nested-progress/internal/progress"
	"github.com/JakeFAU/nested-progress/internal/store"
)

// TestStoreSinkPersistsEvents ensures progress is collapsed per run before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, Name: "character-build"},
		{RunID: runID, Stage: progress.StageProgress, TS: now.Add(time.Second), Fraction: 0.25, Description: "mesh"},
		{RunID: runID, Stage: progress.StageLog, TS: now.Add(time.Second), Note: "ignored"},
		{RunID: runID, Stage: progress.StageProgress, TS: now.Add(2 * time.Second), Fraction: 0.5, Description: "skin"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []string{"start character-build", "progress 0.50 skin"}, repo.calls)
	require.Equal(t, runUUID, repo.lastID)

	done := []progress.Event{
		{RunID: runID, Stage: progress.StageProgress, TS: now.Add(3 * time.Second), Fraction: 1, Description: "export"},
		{RunID: runID, Stage: progress.StageRunError, TS: now.Add(3 * time.Second), Note: "unsupported format"},
	}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, []string{
		"start character-build",
		"progress 0.50 skin",
		"progress 1.00 export",
		"complete error unsupported format",
	}, repo.calls)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "upsert run start")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}

type fakeRunRepo struct {
	fail   bool
	calls  []string
	lastID uuid.UUID
}

var errRepo = errors.New("repository unavailable")

func (f *fakeRunRepo) record(id uuid.UUID, call string) error {
	if f.fail {
		return errRepo
	}
	f.lastID = id
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, id uuid.UUID, name string, _ time.Time) error {
	return f.record(id, "start "+name)
}

func (f *fakeRunRepo) UpdateRunProgress(_ context.Context, id uuid.UUID, fraction float64, desc string, _ time.Time) error {
	return f.record(id, "progress "+formatFraction(fraction)+" "+desc)
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	id uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	call := "complete " + string(status)
	if errMsg != nil {
		call += " " + *errMsg
	}
	return f.record(id, call)
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

func formatFraction(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
