package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone an Event represents.
type Stage string

// Supported event stages.
const (
	StageRunStart Stage = "RUN_START"
	StageProgress Stage = "PROGRESS"
	StageLog      Stage = "LOG"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Event captures one observable moment of a tracked run.
type Event struct {
	// RunID uniquely identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Name labels the run (for example "character-build"); set on start.
	Name string
	// Fraction is the root progress in [0,1] for progress events.
	Fraction float64
	// Description is the rendered status text of a progress event.
	Description string
	// Note carries a flushed log line or the failure text of a run.
	Note string
	// Dur is the wall time of a finished run.
	Dur time.Duration
	// Trace is the propagated trace context of the run; set on completion.
	Trace map[string]string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageLog:
	case StageProgress:
		if e.Fraction < 0 || e.Fraction > 1 {
			return fmt.Errorf("fraction %v outside [0,1]", e.Fraction)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
