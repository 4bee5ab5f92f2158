// Package progress implements hierarchical, weighted progress tracking.
//
// A Tracker owns a stack of Scopes. Each Scope measures one operation's own
// 0..1 completion; creating a Scope while another is active nests it, and every
// update is translated into the enclosing Scope's coordinate space until it
// reaches the root, which alone reports to the sink callback. Subroutines obtain
// the tracker from a context.Context, so callers never pass progress callbacks
// down their call chains.
//
// The package also carries the run Event stream: a non-blocking Hub batches
// events and fans them out to pluggable Sinks such as Prometheus metrics or a
// run repository. Hub.Callback adapts a root Scope's reports into that stream.
//
// Trackers are single-owner values and are not safe for concurrent use; run
// concurrent operations with one Tracker per goroutine. The Hub is safe for
// concurrent use.
package progress
