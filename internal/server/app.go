// Package server builds the long-lived services and serves the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/api"
	"github.com/JakeFAU/nested-progress/internal/config"
	"github.com/JakeFAU/nested-progress/internal/logging"
	"github.com/JakeFAU/nested-progress/internal/metrics"
	"github.com/JakeFAU/nested-progress/internal/pipeline"
	"github.com/JakeFAU/nested-progress/internal/policy/ratelimit"
	"github.com/JakeFAU/nested-progress/internal/progress"
	progresssinks "github.com/JakeFAU/nested-progress/internal/progress/sinks"
	"github.com/JakeFAU/nested-progress/internal/publisher"
	memorypublisher "github.com/JakeFAU/nested-progress/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/nested-progress/internal/publisher/pubsub"
	"github.com/JakeFAU/nested-progress/internal/storage"
	gcsstorage "github.com/JakeFAU/nested-progress/internal/storage/gcs"
	localstorage "github.com/JakeFAU/nested-progress/internal/storage/local"
	memorystorage "github.com/JakeFAU/nested-progress/internal/storage/memory"
	pgstore "github.com/JakeFAU/nested-progress/internal/storage/postgres"
	"github.com/JakeFAU/nested-progress/internal/store"
	"github.com/JakeFAU/nested-progress/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  *sdktrace.TracerProvider

	blobs       storage.BlobStore
	gcs         *gcsclient.Client
	runs        store.RunRepository
	pg          *pgstore.RunStore
	publisher   publisher.Publisher
	pubsubClose func() error

	hub       *progress.Hub
	runner    *pipeline.Runner
	launcher  *api.Launcher
	apiServer *api.Server
}

// Option customizes Build.
type Option func(*App)

// WithLogger uses logger instead of building one from the config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// Build creates the application's dependencies. On failure everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
		app.logger = logger
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	if err := app.setup(ctx); err != nil {
		if closeErr := app.Close(ctx); closeErr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) setup(ctx context.Context) error {
	if a.cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("tracer provider init failed: %w", err)
		}
		a.tracer = tp
		a.logger.Info("tracing enabled", zap.String("service_name", a.cfg.Tracing.ServiceName))
	}
	if a.cfg.Metrics.Enabled {
		m, err := metrics.New()
		if err != nil {
			return fmt.Errorf("metrics init failed: %w", err)
		}
		a.metrics = m
	}
	if err := a.setupStorage(ctx); err != nil {
		return err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return err
	}
	if err := a.setupProgress(ctx); err != nil {
		return err
	}

	runnerOpts := []pipeline.RunnerOption{pipeline.WithLogger(a.logger.Named("runner"))}
	if a.tracer != nil {
		runnerOpts = append(runnerOpts, pipeline.WithTracerProvider(a.tracer))
	}
	a.runner = pipeline.NewRunner(a.hub, runnerOpts...)
	a.launcher = api.NewLauncher(a.runner, a.blobs, api.LauncherConfig{
		MaxRuns:   a.cfg.Server.MaxRuns,
		Interval:  a.cfg.Tracker.ModifierInterval,
		Logging:   a.cfg.Tracker.Logging,
		Timing:    a.cfg.Tracker.Timing,
		WorkDelay: a.cfg.Server.WorkDelay,
	}, a.logger.Named("launcher"))
	if a.metrics != nil {
		a.launcher.OnStart(a.metrics.ObserveRunLaunched)
	}
	apiOpts := api.Options{
		Runs:     api.NewRunHandler(a.runs, a.logger.Named("api")),
		Launcher: a.launcher,
		Metrics:  a.metrics,
		Ready:    a.ready,
		Logger:   a.logger.Named("http"),
		APIKey:   a.cfg.Server.APIKey,
	}
	if a.cfg.Server.LaunchRPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.Server.LaunchRPS, Burst: a.cfg.Server.LaunchBurst})
		apiOpts.LaunchLimit = limiter.Middleware
		a.logger.Info("launch rate limit enabled",
			zap.Float64("rps", a.cfg.Server.LaunchRPS),
			zap.Int("burst", a.cfg.Server.LaunchBurst),
		)
	}
	a.apiServer = api.NewServer(apiOpts)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend")
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Debug("GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		a.logger.Info("using local storage backend")
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Debug("local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
	default:
		a.logger.Info("using in-memory storage backend")
		a.blobs = memorystorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping run history in memory")
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	pg, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.pg = pg
	a.runs = pg
	if a.cfg.DB.AutoMigrate {
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		a.logger.Info("runs schema ensured")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, closeFn, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.pubsubClose = closeFn
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("run_log")),
		progresssinks.NewStoreSink(a.runs, a.logger.Named("run_store")),
		progresssinks.NewArchiveSink(a.blobs, a.cfg.Storage.Prefix, a.logger.Named("run_archive")),
		progresssinks.NewPublishSink(a.publisher, a.cfg.PubSub.TopicName, a.logger.Named("run_publish")),
	}
	if a.metrics != nil {
		promSink, err := progresssinks.NewPrometheusSink(a.metrics.Registry())
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	hubCfg := progress.HubConfig{
		BufferSize:     a.cfg.Hub.BufferSize,
		MaxBatchEvents: a.cfg.Hub.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Hub.MaxBatchWait,
		SinkTimeout:    a.cfg.Hub.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("run_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("run hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pg == nil {
		return nil
	}
	return a.pg.Ping(ctx)
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Events returns the hub every run reports into.
func (a *App) Events() pipeline.Events { return a.hub }

// Runner returns the Runner used by the HTTP launcher.
func (a *App) Runner() *pipeline.Runner { return a.runner }

// Runs returns the run repository.
func (a *App) Runs() store.RunRepository { return a.runs }

// Blobs returns the blob store holding transcripts and exports.
func (a *App) Blobs() storage.BlobStore { return a.blobs }

// Publisher returns the completion publisher.
func (a *App) Publisher() publisher.Publisher { return a.publisher }

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Serve runs the HTTP server until ctx is canceled or SIGINT/SIGTERM arrives,
// then drains running builds. It does not close the App.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.launcher.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	select {
	case err := <-errCh:
		errs = append(errs, fmt.Errorf("http server: %w", err))
	default:
	}
	return errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close flushes the hub and releases clients. Runs still in flight should be
// finished first so their final events reach the sinks.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.launcher != nil {
		if err := a.launcher.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if a.pubsubClose != nil {
		if err := a.pubsubClose(); err != nil {
			errs = append(errs, fmt.Errorf("pubsub close: %w", err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gcs client close: %w", err))
		}
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
