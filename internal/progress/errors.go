package progress

import "errors"

// ErrUsage marks a call that violates the tracking contract, such as stepping
// past the configured steps. The Scope is left unchanged.
var ErrUsage = errors.New("progress: usage error")
