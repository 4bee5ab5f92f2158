package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/nested-progress/internal/progress"
)

type fakeEvents struct {
	mu        sync.Mutex
	events    []progress.Event
	fractions []float64
	lines     []string
}

func (f *fakeEvents) Emit(evt progress.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeEvents) Callback([16]byte) progress.Callback {
	return func(fraction float64, _ string, _ ...any) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fractions = append(f.fractions, fraction)
		return nil
	}
}

func (f *fakeEvents) Logger([16]byte) progress.Logger { return f }

func (f *fakeEvents) Debugf(template string, _ ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, template)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fixedIDs struct{ id uuid.UUID }

func (f fixedIDs) NewRunID() (uuid.UUID, error) { return f.id, nil }

func TestRunnerEmitsLifecycle(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var hostCalls int
	runner := NewRunner(events,
		WithClock(clock),
		WithIDs(fixedIDs{id: uuid.MustParse("0190f7b4-3c1a-7cc0-8000-000000000001")}),
		WithHost(func(float64, string, ...any) error { hostCalls++; return nil }),
	)

	runID, err := runner.NewRunID()
	require.NoError(t, err)
	require.Equal(t, "0190f7b4-3c1a-7cc0-8000-000000000001", runID.String())

	err = runner.Run(context.Background(), runID, "demo", func(ctx context.Context) error {
		scope, err := progress.New(ctx, progress.WithSteps(progress.Count(2)), progress.WithLogging())
		if err != nil {
			return err
		}
		clock.now = clock.now.Add(3 * time.Second)
		if err := scope.Step(progress.Keep()); err != nil {
			return err
		}
		return scope.Step(progress.Keep())
	})
	require.NoError(t, err)

	require.Len(t, events.events, 2)
	start, done := events.events[0], events.events[1]
	require.Equal(t, progress.StageRunStart, start.Stage)
	require.Equal(t, "demo", start.Name)
	require.Equal(t, progress.UUIDToBytes(runID), start.RunID)
	require.Equal(t, progress.StageRunDone, done.Stage)
	require.Equal(t, 3*time.Second, done.Dur)
	require.NoError(t, start.Validate())
	require.NoError(t, done.Validate())

	require.Equal(t, []float64{0.5, 1}, events.fractions)
	require.Equal(t, 2, hostCalls)
	require.Equal(t, []string{"Progress %.2f%%: %s", "Progress %.2f%%: %s"}, events.lines)
}

func TestRunnerReportsFailure(t *testing.T) {
	t.Parallel()

	events := &fakeEvents{}
	runner := NewRunner(events)
	boom := errors.New("boom")

	err := runner.Run(context.Background(), uuid.New(), "demo", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "run demo")

	require.Len(t, events.events, 2)
	require.Equal(t, progress.StageRunError, events.events[1].Stage)
	require.Equal(t, "boom", events.events[1].Note)
}

func TestRunnerWithoutEvents(t *testing.T) {
	t.Parallel()

	runner := NewRunner(nil)
	err := runner.Run(context.Background(), uuid.New(), "demo", func(ctx context.Context) error {
		scope, err := progress.New(ctx)
		if err != nil {
			return err
		}
		return scope.Report(1, progress.Describe("done"))
	})
	require.NoError(t, err)
}

func TestRunnerGivesEachRunItsOwnTracker(t *testing.T) {
	t.Parallel()

	runner := NewRunner(&fakeEvents{})
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = runner.Run(context.Background(), uuid.New(), "parallel", func(ctx context.Context) error {
				scope, err := progress.New(ctx, progress.WithSteps(progress.Count(50)))
				if err != nil {
					return err
				}
				for j := 0; j < 50; j++ {
					if err := scope.Step(progress.Keep()); err != nil {
						return err
					}
				}
				if progress.FromContext(ctx).Current() != nil {
					return errors.New("scope left active")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestRunnerTracesRunsAndStages(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	events := &fakeEvents{}
	runner := NewRunner(events, WithTracerProvider(tp), WithPropagator(propagation.TraceContext{}))
	boom := errors.New("mesh missing")
	err := runner.Run(context.Background(), uuid.New(), "demo", func(ctx context.Context) error {
		return RunStages(ctx, []Stage{
			{Name: "first", Weight: 1, Run: func(context.Context) error { return nil }},
			{Name: "second", Weight: 1, Run: func(context.Context) error { return boom }},
		})
	})
	require.ErrorIs(t, err, boom)

	ended := recorder.Ended()
	require.Len(t, ended, 3)
	first, second, run := ended[0], ended[1], ended[2]
	require.Equal(t, "stage first", first.Name())
	require.Equal(t, "stage second", second.Name())
	require.Equal(t, "run demo", run.Name())
	require.Equal(t, run.SpanContext().SpanID(), first.Parent().SpanID())
	require.Equal(t, run.SpanContext().SpanID(), second.Parent().SpanID())
	require.Equal(t, codes.Error, second.Status().Code)
	require.Equal(t, codes.Error, run.Status().Code)
	require.Equal(t, codes.Unset, first.Status().Code)

	done := events.events[1]
	require.Equal(t, progress.StageRunError, done.Stage)
	require.Contains(t, done.Trace["traceparent"], run.SpanContext().TraceID().String())
}
