package progress

import "fmt"

// HighFrequency wraps a stepped Scope for tight loops: only every interval-th
// step and the final step run the full update; the others just advance the
// counters.
type HighFrequency struct {
	scope    *Scope
	interval int
}

// HighFrequency returns a sampling stepper over s.
func (s *Scope) HighFrequency(interval int) (*HighFrequency, error) {
	if interval < 1 {
		return nil, fmt.Errorf("%w: high-frequency interval %d must be >= 1", ErrUsage, interval)
	}
	if s.steps.Len() == 0 {
		return nil, fmt.Errorf("%w: high-frequency mode needs a stepped scope", ErrUsage)
	}
	return &HighFrequency{scope: s, interval: interval}, nil
}

// Step completes one step.
func (h *HighFrequency) Step() error {
	s := h.scope
	if s.taken%h.interval > 0 && s.taken < s.steps.Len()-1 {
		s.advance()
		return nil
	}
	return s.Step(Keep())
}

// Scope returns the wrapped Scope.
func (h *HighFrequency) Scope() *Scope {
	return h.scope
}
