package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/pipeline"
	"github.com/JakeFAU/nested-progress/internal/storage"
)

// LauncherConfig tunes background runs.
type LauncherConfig struct {
	// MaxRuns caps concurrently executing runs; extra launches get 429.
	MaxRuns int
	// Interval is the high-frequency interval of the modifier loop.
	Interval int
	// Logging and Timing are set on every run's root scope.
	Logging bool
	Timing  bool
	// WorkDelay is slept per unit of simulated work.
	WorkDelay time.Duration
}

// Launcher starts character builds in background goroutines. Every run gets
// its own tracker from the Runner.
type Launcher struct {
	runner  *pipeline.Runner
	exports storage.BlobStore
	cfg     LauncherConfig
	logger  *zap.Logger
	onStart func(name string)

	slots  chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLauncher creates a Launcher writing exports to exports.
func NewLauncher(runner *pipeline.Runner, exports storage.BlobStore, cfg LauncherConfig, logger *zap.Logger) *Launcher {
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Launcher{
		runner:  runner,
		exports: exports,
		cfg:     cfg,
		logger:  logger,
		slots:   make(chan struct{}, cfg.MaxRuns),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnStart registers a hook called for every accepted launch.
func (l *Launcher) OnStart(fn func(name string)) {
	l.onStart = fn
}

type launchRequest struct {
	Age    *float64 `json:"age"`
	Gender *float64 `json:"gender"`
	Race   string   `json:"race"`
	Rig    string   `json:"rig"`
	Hair   string   `json:"hair"`
	LowRes bool     `json:"lowres"`
	Output string   `json:"output"`
}

func (req launchRequest) options() pipeline.CharacterOptions {
	opts := pipeline.CharacterOptions{
		Age:    25,
		Gender: 0.5,
		Race:   req.Race,
		Rig:    req.Rig,
		Hair:   req.Hair,
		LowRes: req.LowRes,
		Output: req.Output,
	}
	if req.Age != nil {
		opts.Age = *req.Age
	}
	if req.Gender != nil {
		opts.Gender = *req.Gender
	}
	if opts.Race == "" {
		opts.Race = "caucasian"
	}
	if opts.Output == "" {
		opts.Output = "character.mhx"
	}
	return opts
}

// Launch handles POST /api/runs. It returns 202 with {"run_id": ...} once the
// run is started, 400 for invalid options, 429 when all slots are busy, or
// 503 after Shutdown.
func (l *Launcher) Launch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := req.options()
	if err := opts.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if l.ctx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	select {
	case l.slots <- struct{}{}:
	default:
		writeError(w, http.StatusTooManyRequests, "too many runs in progress")
		return
	}

	runID, err := l.runner.NewRunID()
	if err != nil {
		<-l.slots
		l.logger.Error("run id generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	opts.Output = path.Join("exports", runID.String(), path.Base(opts.Output))
	build := &pipeline.CharacterBuild{
		Options:  opts,
		Output:   l.exports,
		Interval: l.cfg.Interval,
		Logging:  l.cfg.Logging,
		Timing:   l.cfg.Timing,
		Work:     sleepWork(l.cfg.WorkDelay),
	}

	if l.onStart != nil {
		l.onStart(pipeline.CharacterRunName)
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() { <-l.slots }()
		if err := l.runner.Run(l.ctx, runID, pipeline.CharacterRunName, build.Job()); err != nil {
			l.logger.Debug("background run ended with error", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID.String(),
		"output": opts.Output,
	})
}

// Wait blocks until every launched run has returned.
func (l *Launcher) Wait() {
	l.wg.Wait()
}

// Shutdown cancels running builds and waits for them, bounded by ctx.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.cancel()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("launcher shutdown"), ctx.Err())
	}
}

func sleepWork(d time.Duration) pipeline.WorkFunc {
	if d <= 0 {
		return nil
	}
	return func(ctx context.Context, _ string, _ int) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}
