// Package sinks implements batch consumers of run events: structured logs,
// Prometheus collectors, the run repository, transcript archives and
// completion notifications. Each sink satisfies progress.Sink and is safe for
// repeated Consume/Close cycles.
package sinks
