package progress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/clock/system"
)

// Callback receives root progress reports. fraction is in [0,1]; description
// is a printf-style format rendered with args by the receiver. An error
// returned by a Callback is passed back to the caller of the reporting method.
type Callback func(fraction float64, description string, args ...any) error

// Logger receives flushed log entries. *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...any)
}

// Clock returns the current time; it drives timing.
type Clock interface {
	Now() time.Time
}

// Tracker holds the active Scope of one logical thread of control. Creating a
// Scope pushes it; finishing it pops back to its parent.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	current *Scope
	host    Callback
	logger  Logger
	clock   Clock
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithHost sets the host callback bound to roots created without an explicit
// sink. A nil callback disables host reporting.
func WithHost(cb Callback) TrackerOption {
	return func(t *Tracker) {
		t.host = cb
	}
}

// WithLogger sets the destination for flushed log entries and timing totals.
func WithLogger(l Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock overrides the clock used for timing.
func WithClock(c Clock) TrackerOption {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// NewTracker returns an idle Tracker. Without options the host callback is
// a no-op and log entries are discarded.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		host:   func(float64, string, ...any) error { return nil },
		logger: zap.NewNop().Sugar(),
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Current returns the active Scope, or nil when no operation is measured.
func (t *Tracker) Current() *Scope {
	return t.current
}

// New creates a Scope nested in the active one, or a root if none is active,
// and makes it active.
func (t *Tracker) New(opts ...Option) (*Scope, error) {
	return t.push(t.current, opts)
}

// Begin creates a root Scope regardless of the active one. The previously
// active chain is abandoned.
func (t *Tracker) Begin(opts ...Option) (*Scope, error) {
	return t.push(nil, opts)
}

// Resume makes s the active Scope again and reopens it if it had finished.
func (t *Tracker) Resume(s *Scope) {
	if s == nil || s.tracker != t {
		return
	}
	s.finished = false
	t.current = s
}

func (t *Tracker) push(parent *Scope, opts []Option) (*Scope, error) {
	cfg := scopeConfig{sink: sinkHost}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Scope{
		tracker: t,
		parent:  parent,
		steps:   cfg.steps,
		total:   cfg.steps.Total(),
		logging: cfg.logging,
		timing:  cfg.timing,
	}
	if parent == nil {
		switch cfg.sink {
		case sinkHost:
			s.sink = t.host
		case sinkCustom:
			s.sink = cfg.callback
		}
	}
	t.current = s

	// Seed the timing baseline: callers do not update before their first step.
	if s.steps.Len() > 0 && s.timing {
		if err := s.update(s.resolve(), Keep(), false); err != nil {
			return s, err
		}
	}
	return s, nil
}

// pop restores s's parent as active if s is on the active chain.
func (t *Tracker) pop(s *Scope) {
	for cur := t.current; cur != nil; cur = cur.parent {
		if cur == s {
			t.current = s.parent
			return
		}
	}
}

type ctxKey struct{}

// WithTracker attaches t to ctx.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the Tracker attached to ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(ctxKey{}).(*Tracker)
	return t
}

// New creates a Scope on the Tracker carried by ctx. Without one, the Scope is
// the root of a detached Tracker, so code measuring itself works standalone.
func New(ctx context.Context, opts ...Option) (*Scope, error) {
	t := FromContext(ctx)
	if t == nil {
		t = NewTracker()
	}
	return t.New(opts...)
}
