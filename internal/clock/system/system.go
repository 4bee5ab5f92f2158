// Package system provides the process clock used for progress timing.
package system

import "time"

// Clock implements progress.Clock using time.Now. Readings keep their
// monotonic component, so durations between them ignore wall clock steps.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now()
}

// UTC returns the current wall time in UTC for timestamps that are persisted.
func (Clock) UTC() time.Time {
	return time.Now().UTC()
}
