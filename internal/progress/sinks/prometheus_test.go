package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nested-progress/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the run lifecycle.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Name: "character-build"},
		{RunID: runID, TS: now, Stage: progress.StageProgress, Fraction: 0.25},
		{RunID: runID, TS: now, Stage: progress.StageProgress, Fraction: 0.75},
		{RunID: runID, TS: now, Stage: progress.StageLog, Note: "Progress 75.00%: "},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted.WithLabelValues("character-build")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.progressUpdates.WithLabelValues("character-build")), 1e-9)
	require.InDelta(t, 0.75, testutil.ToFloat64(sink.lastFraction.WithLabelValues("character-build")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.logLines), 1e-9)

	done := []progress.Event{
		{RunID: runID, TS: now.Add(3 * time.Second), Stage: progress.StageRunDone, Dur: 3 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), done))

	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("character-build", "success")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "progress_run_duration_seconds"))
}

func TestPrometheusSinkIgnoresDuplicateStarts(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)
	runID := progress.UUIDToBytes(uuid.New())
	start := progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart, Name: "demo"}

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsRunning), 1e-9)

	// A failure for a run that never started still counts, without moving the gauge below zero.
	orphan := progress.Event{RunID: progress.UUIDToBytes(uuid.New()), TS: time.Now(), Stage: progress.StageRunError}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{orphan}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("unknown", "error")), 1e-9)
}

func TestNewPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
