package progress

type sinkMode uint8

const (
	sinkHost sinkMode = iota
	sinkCustom
	sinkDisabled
)

type scopeConfig struct {
	steps    Steps
	sink     sinkMode
	callback Callback
	logging  bool
	timing   bool
}

// Option configures a Scope at creation.
type Option func(*scopeConfig)

// WithSteps switches the Scope to stepped mode.
func WithSteps(steps Steps) Option {
	return func(c *scopeConfig) {
		c.steps = steps
	}
}

// WithSink binds cb as the root callback instead of the tracker's host.
// A nil cb disables reporting. Ignored for nested scopes.
func WithSink(cb Callback) Option {
	return func(c *scopeConfig) {
		if cb == nil {
			c.sink = sinkDisabled
			return
		}
		c.sink = sinkCustom
		c.callback = cb
	}
}

// WithoutSink disables reporting for the root's whole subtree while keeping
// the accounting, logging and timing.
func WithoutSink() Option {
	return func(c *scopeConfig) {
		c.sink = sinkDisabled
		c.callback = nil
	}
}

// WithLogging records a log entry for every update made on the Scope.
func WithLogging() Option {
	return func(c *scopeConfig) {
		c.logging = true
	}
}

// WithTiming accumulates the time spent between the Scope's updates.
func WithTiming() Option {
	return func(c *scopeConfig) {
		c.timing = true
	}
}
