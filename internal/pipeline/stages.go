package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/nested-progress/internal/progress"
)

// Stage is one weighted part of a staged run.
type Stage struct {
	Name   string
	Weight float64
	Run    func(ctx context.Context) error
}

// RunStages opens a fractional scope and runs the stages in order. Before a
// stage runs, the scope reports the stage's share of the total as its range,
// so scopes the stage opens fill exactly that share. Each stage runs in a span
// of the caller's tracer provider. The first failing stage stops the run.
func RunStages(ctx context.Context, stages []Stage, opts ...progress.Option) error {
	if len(stages) == 0 {
		return nil
	}
	var total float64
	for _, st := range stages {
		if st.Weight <= 0 {
			return fmt.Errorf("stage %s: weight %v must be positive", st.Name, st.Weight)
		}
		total += st.Weight
	}
	scope, err := progress.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer scope.Finish()

	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName)
	var done float64
	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stage %s: %w", st.Name, err)
		}
		from := done / total
		done += st.Weight
		to := done / total
		if i == len(stages)-1 {
			to = 1
		}
		if err := scope.ReportRange(from, to, progress.Describe("%s", st.Name)); err != nil {
			return err
		}
		if err := runStage(ctx, tracer, st); err != nil {
			return fmt.Errorf("stage %s: %w", st.Name, err)
		}
		if err := scope.Report(to, progress.Describe("%s done", st.Name)); err != nil {
			return err
		}
	}
	return nil
}

func runStage(ctx context.Context, tracer trace.Tracer, st Stage) error {
	if st.Run == nil {
		return nil
	}
	ctx, span := tracer.Start(ctx, "stage "+st.Name, trace.WithAttributes(
		attribute.Float64("stage.weight", st.Weight),
	))
	defer span.End()
	if err := st.Run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
