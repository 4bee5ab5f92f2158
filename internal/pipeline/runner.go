package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/clock/system"
	idgen "github.com/JakeFAU/nested-progress/internal/id/uuid"
	"github.com/JakeFAU/nested-progress/internal/logging"
	"github.com/JakeFAU/nested-progress/internal/progress"
	"github.com/JakeFAU/nested-progress/internal/telemetry"
)

const tracerName = "github.com/JakeFAU/nested-progress/internal/pipeline"

// Events is the event plumbing a Runner reports into. *progress.Hub
// satisfies it.
type Events interface {
	progress.Emitter
	Callback(runID [16]byte) progress.Callback
	Logger(runID [16]byte) progress.Logger
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Job is the body of a run. The context carries the run's tracker, so the job
// and everything it calls open scopes with progress.New(ctx, ...).
type Job func(ctx context.Context) error

// Runner executes jobs with a fresh tracker per run.
type Runner struct {
	events Events
	ids    IDGenerator
	clock  progress.Clock
	host   progress.Callback
	logger *zap.Logger
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithHost adds a callback that sees every root report next to the events,
// e.g. a console renderer.
func WithHost(cb progress.Callback) RunnerOption {
	return func(r *Runner) { r.host = cb }
}

// WithClock overrides the clock used for run durations and scope timing.
func WithClock(c progress.Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithIDs overrides the run ID generator.
func WithIDs(g IDGenerator) RunnerOption {
	return func(r *Runner) {
		if g != nil {
			r.ids = g
		}
	}
}

// WithTracerProvider records run and stage spans with tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithPropagator overrides the propagator that copies the run's trace context
// onto its completion event.
func WithPropagator(p propagation.TextMapPropagator) RunnerOption {
	return func(r *Runner) {
		if p != nil {
			r.prop = p
		}
	}
}

// WithLogger sets the logger that also receives the tracker's log lines.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a Runner reporting into events. A nil events discards
// everything.
func NewRunner(events Events, opts ...RunnerOption) *Runner {
	if events == nil {
		events = discard{}
	}
	r := &Runner{
		events: events,
		ids:    idgen.New(),
		clock:  system.New(),
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
		prop:   otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRunID mints an ID for a run that is about to be started.
func (r *Runner) NewRunID() (uuid.UUID, error) {
	id, err := r.ids.NewRunID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("new run id: %w", err)
	}
	return id, nil
}

// Run executes job as run runID inside a span. It emits a start event, then a
// done or error event carrying the wall time and the span's trace context, and
// returns the job's error wrapped with the run name.
func (r *Runner) Run(ctx context.Context, runID uuid.UUID, name string, job Job) error {
	id := progress.UUIDToBytes(runID)
	ctx, span := r.tracer.Start(ctx, "run "+name, trace.WithAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("run.name", name),
	))
	defer span.End()
	logger := r.logger.With(zap.Stringer("run_id", runID), zap.String("run", name))

	start := r.clock.Now()
	r.events.Emit(progress.Event{RunID: id, TS: start.UTC(), Stage: progress.StageRunStart, Name: name})

	tracker := progress.NewTracker(
		progress.WithHost(progress.TeeCallback(r.events.Callback(id), r.host)),
		progress.WithLogger(progress.TeeLogger(r.events.Logger(id), logging.Tracker(logger))),
		progress.WithClock(r.clock),
	)
	err := job(progress.WithTracker(ctx, tracker))

	end := r.clock.Now()
	evt := progress.Event{
		RunID: id,
		TS:    end.UTC(),
		Stage: progress.StageRunDone,
		Dur:   end.Sub(start),
		Trace: telemetry.Inject(ctx, r.prop),
	}
	if err != nil {
		evt.Stage = progress.StageRunError
		evt.Note = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.events.Emit(evt)

	if err != nil {
		logger.Warn("run failed", zap.Error(err), zap.Duration("dur", evt.Dur))
		return fmt.Errorf("run %s: %w", name, err)
	}
	logger.Info("run finished", zap.Duration("dur", evt.Dur))
	return nil
}

type discard struct{}

func (discard) Emit(progress.Event) {}

func (discard) Callback([16]byte) progress.Callback { return nil }

func (discard) Logger([16]byte) progress.Logger { return nil }
