package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs.status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one tracked operation, such as a character build.
type Run struct {
	// ID is the run identifier shared with the event stream.
	ID uuid.UUID
	// Name labels the kind of run.
	Name string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// Fraction is the last root progress reported, in [0,1].
	Fraction float64
	// Description is the last status text reported.
	Description string
	// UpdatedAt is the timestamp of the last progress report.
	UpdatedAt time.Time
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunRepository persists run lifecycles and their latest progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) a running run.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, name string, startedAt time.Time) error
	// UpdateRunProgress stores the latest fraction and description.
	UpdateRunProgress(ctx context.Context, runID uuid.UUID, fraction float64, description string, at time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset,
	// newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
