package progress

import (
	"fmt"
	"strings"
	"time"
)

// completeAt absorbs float error in step sums.
const completeAt = 1 - 1e-6

// Scope is one nested operation's view of its own progress. Obtain Scopes from
// a Tracker or from New.
type Scope struct {
	tracker *Tracker
	parent  *Scope

	steps Steps
	total float64
	taken int
	done  float64

	fraction float64
	end      float64
	hasEnd   bool
	reported float64

	desc Description
	sink Callback

	logging bool
	timing  bool
	last    time.Time
	elapsed time.Duration
	pending []LogEntry

	finished bool
}

// LogEntry is a queued log line. Level counts the scopes the entry crossed on
// its way to the root and is rendered as leading dashes.
type LogEntry struct {
	Format string
	Args   []any
	Level  int
}

// Text returns the format prefixed with the indentation dashes.
func (e LogEntry) Text() string {
	return strings.Repeat("-", e.Level) + e.Format
}

// Report sets the Scope's fraction and clears any range end. desc replaces the
// stored description unless it is Keep().
func (s *Scope) Report(fraction float64, desc Description) error {
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: fraction %v outside [0,1]", ErrUsage, fraction)
	}
	s.setDescription(desc)
	s.fraction = fraction
	s.hasEnd = false
	return s.update(s.resolve(), Keep(), false)
}

// ReportRange sets the Scope's fraction and the end of the span that Scopes
// created next will fill: a child at 100% puts this Scope at end.
func (s *Scope) ReportRange(fraction, end float64, desc Description) error {
	if fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: fraction %v outside [0,1]", ErrUsage, fraction)
	}
	if end < fraction || end > 1 {
		return fmt.Errorf("%w: range end %v outside [%v,1]", ErrUsage, end, fraction)
	}
	s.setDescription(desc)
	s.fraction = fraction
	s.end = end
	s.hasEnd = true
	return s.update(s.resolve(), Keep(), false)
}

// Step completes the next step. On a fractional Scope it only refreshes the
// description.
func (s *Scope) Step(desc Description) error {
	if n := s.steps.Len(); n > 0 {
		if s.taken >= n {
			return fmt.Errorf("%w: all %d steps already taken", ErrUsage, n)
		}
		s.advance()
	}
	s.setDescription(desc)
	return s.update(s.resolve(), Keep(), false)
}

// Finish finalizes the Scope: the parent becomes active again and a root with
// logging and timing logs its total time. Finishing twice has no effect.
//
// Only a Scope's own Report or Step finalizes it on reaching 1. A parent that
// a child drives to 1, e.g. through ReportRange(f, 1, ...), stays active until
// its owner reports 1 or calls Finish.
func (s *Scope) Finish() {
	if s.finished {
		return
	}
	s.finished = true
	if s.parent == nil {
		s.flushLog()
		if s.logging && s.timing {
			s.tracker.logger.Debugf("Total time taken: %.4f seconds.", s.elapsed.Seconds())
		}
	}
	s.tracker.pop(s)
}

// Parent returns the enclosing Scope, or nil for a root.
func (s *Scope) Parent() *Scope { return s.parent }

// IsRoot reports whether the Scope has no parent.
func (s *Scope) IsRoot() bool { return s.parent == nil }

// Finished reports whether the Scope has been finalized.
func (s *Scope) Finished() bool { return s.finished }

// Fraction returns the Scope's own progress: completed weight over the total
// in stepped mode, the last reported fraction otherwise.
func (s *Scope) Fraction() float64 { return s.resolve() }

// Reported returns the fraction of the Scope's last update, including updates
// folded in from nested Scopes.
func (s *Scope) Reported() float64 { return s.reported }

// StepsCompleted returns the accumulated step weight.
func (s *Scope) StepsCompleted() float64 { return s.done }

// TotalSteps returns the step total, 0 in fractional mode.
func (s *Scope) TotalSteps() float64 { return s.total }

// Elapsed returns the time accumulated between updates when timing is on.
func (s *Scope) Elapsed() time.Duration { return s.elapsed }

// Description returns the stored description.
func (s *Scope) Description() Description { return s.desc }

func (s *Scope) setDescription(desc Description) {
	switch desc.state {
	case descValue:
		s.desc = desc
	case descClear:
		s.desc = Description{}
	}
}

func (s *Scope) advance() {
	s.done += s.steps.weight(s.taken)
	s.taken++
}

func (s *Scope) resolve() float64 {
	if s.total > 0 {
		return s.done / s.total
	}
	return s.fraction
}

// update runs the aggregation for one report. child is set when the report
// originates in a nested Scope, in which case timing and logging already ran
// at the origin.
func (s *Scope) update(fraction float64, desc Description, child bool) error {
	if !desc.IsSet() {
		desc = s.desc
	}

	if s.timing && !child {
		now := s.tracker.clock.Now()
		if !s.last.IsZero() {
			delta := now.Sub(s.last)
			s.elapsed += delta
			if s.logging {
				s.enqueue("  took %.4f seconds", delta.Seconds())
			}
		}
		s.last = now
	}
	if s.logging && !child {
		s.enqueue("Progress %.2f%%: %s", fraction*100, desc.String())
	}
	s.propagateLog()

	s.reported = fraction
	if s.parent == nil {
		s.flushLog()
		if s.sink != nil {
			if err := s.sink(fraction, desc.Format(), desc.Args()...); err != nil {
				return fmt.Errorf("progress callback: %w", err)
			}
		}
	}

	if !child && fraction >= completeAt {
		s.Finish()
	}

	if s.parent != nil {
		return s.parent.childUpdate(fraction, desc)
	}
	return nil
}

// childUpdate maps a nested Scope's fraction into this Scope's space. In
// stepped mode the child counts as one unit on top of the completed steps,
// whatever the weight of the next step; with a range end it fills the span up
// to the end; otherwise this Scope does not move.
func (s *Scope) childUpdate(fraction float64, desc Description) error {
	switch {
	case s.total > 0:
		fraction = min((s.done+fraction)/s.total, 1)
	case s.hasEnd && fraction >= completeAt:
		fraction = s.end
	case s.hasEnd:
		fraction = s.fraction + fraction*(s.end-s.fraction)
	default:
		fraction = s.fraction
	}
	return s.update(fraction, desc, true)
}

func (s *Scope) enqueue(format string, args ...any) {
	s.pending = append(s.pending, LogEntry{Format: format, Args: args})
}

// propagateLog moves queued entries to the root, one indent level per hop.
func (s *Scope) propagateLog() {
	if s.parent == nil || len(s.pending) == 0 {
		return
	}
	for i := range s.pending {
		s.pending[i].Level++
	}
	s.parent.pending = append(s.parent.pending, s.pending...)
	s.pending = nil
	s.parent.propagateLog()
}

func (s *Scope) flushLog() {
	for _, e := range s.pending {
		s.tracker.logger.Debugf(e.Text(), e.Args...)
	}
	s.pending = nil
}
