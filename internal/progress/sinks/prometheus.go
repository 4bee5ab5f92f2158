package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/nested-progress/internal/progress"
)

// PrometheusSink exports run metrics via Prometheus. It owns the collectors
// for runs started/completed/running, progress updates, run durations and the
// last reported fraction per run name.
type PrometheusSink struct {
	runsStarted     *prometheus.CounterVec
	runsCompleted   *prometheus.CounterVec
	runsRunning     prometheus.Gauge
	runDuration     *prometheus.HistogramVec
	progressUpdates *prometheus.CounterVec
	lastFraction    *prometheus.GaugeVec
	logLines        prometheus.Counter

	runs *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_runs_started_total",
			Help: "Total runs that have started, by run name.",
		}, []string{"name"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_runs_completed_total",
			Help: "Total runs completed partitioned by run name and result.",
		}, []string{"name", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "progress_runs_running",
			Help: "Current number of running runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "progress_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"name", "result"}),
		progressUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "progress_updates_total",
			Help: "Root progress reports received, by run name.",
		}, []string{"name"}),
		lastFraction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "progress_last_fraction",
			Help: "Most recent root fraction reported, by run name.",
		}, []string{"name"}),
		logLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "progress_log_lines_total",
			Help: "Tracker log lines flushed at run roots.",
		}),
		runs: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.progressUpdates,
		s.lastFraction,
		s.logLines,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		name := labelOrUnknown(evt.Name)
		s.runsStarted.WithLabelValues(name).Inc()
		if s.runs.start(evt.RunID, name) {
			s.runsRunning.Inc()
		}
	case progress.StageProgress:
		name := s.runs.name(evt.RunID)
		s.progressUpdates.WithLabelValues(name).Inc()
		s.lastFraction.WithLabelValues(name).Set(evt.Fraction)
	case progress.StageLog:
		s.logLines.Inc()
	case progress.StageRunDone:
		s.complete(evt, "success")
	case progress.StageRunError:
		s.complete(evt, "error")
	}
}

func (s *PrometheusSink) complete(evt progress.Event, result string) {
	name, running := s.runs.complete(evt.RunID)
	if running {
		s.runsRunning.Dec()
	}
	s.runsCompleted.WithLabelValues(name, result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(name, result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func labelOrUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]string
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]string)}
}

func (t *runTracker) start(id [16]byte, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = name
	return true
}

func (t *runTracker) name(id [16]byte) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return labelOrUnknown(t.running[id])
}

func (t *runTracker) complete(id [16]byte) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	name, ok := t.running[id]
	if !ok {
		return "unknown", false
	}
	delete(t.running, id)
	return name, true
}
