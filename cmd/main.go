package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentrilab/pulse/internal/adapters/extractor"
	"github.com/sentrilab/pulse/internal/adapters/repository"
	"github.com/sentrilab/pulse/internal/config"
	"github.com/sentrilab/pulse/internal/domain/model"
	"github.com/sentrilab/pulse/internal/domain/score"
	"github.com/sentrilab/pulse/internal/domain/window"
	"github.com/sentrilab/pulse/internal/pipeline"
	"github.com/sentrilab/pulse/pkg/logger"
	"github.com/sentrilab/pulse/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to build store", logger.Error(err))
		return
	}
	defer cleanup()

	if err := seedBaselines(ctx, store, cfg.Baselines); err != nil {
		log.Error(ctx, "failed to seed baselines", logger.Error(err))
		return
	}

	source, err := buildSource(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to build source", logger.Error(err))
		return
	}

	engine := score.NewEngine(
		score.WithDecay(cfg.DecayFactor),
		score.WithTrendWeight(cfg.TrendWeight),
		score.WithTrendAdjustment(cfg.TrendEnabled),
	)
	clock := window.NewClock(window.WithSize(cfg.WindowSize()))
	sched := pipeline.NewScheduler(
		clock,
		source,
		store,
		pipeline.NewRecorder(store, store),
		pipeline.NewCalculator(store, engine,
			pipeline.WithHistoryDepth(cfg.HistoryDepth),
			pipeline.WithMinReports(cfg.MinReports),
			pipeline.WithWorkerCount(cfg.WorkerCount),
		),
		pipeline.NewAggregator(store),
		pipeline.WithTick(cfg.Tick()),
		pipeline.WithExtractTimeout(cfg.ExtractTimeout()),
		pipeline.WithBootstrapWindows(cfg.BootstrapWindows),
	)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "scheduler stopped", logger.Error(err))
		}
	}()

	// Ops HTTP: metrics scrape and health.
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting ops HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Warn(ctx, "scheduler did not stop before the shutdown deadline")
	}

	log.Info(ctx, "stopped")
}

// buildStore selects Postgres when a DSN is configured, the in-memory store
// otherwise. The returned cleanup closes whatever was opened.
func buildStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.StoreDSN == "" {
		logger.Get().Info(ctx, "no store_dsn configured, using in-memory store")
		return repository.NewMemStore(), func() {}, nil
	}

	pg, err := repository.NewPostgresStore(ctx, cfg.StoreDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	return pg, func() { _ = pg.Close() }, nil
}

// buildSource selects the Postgres upstream when a DSN is configured, the
// deterministic simulated fleet otherwise.
func buildSource(ctx context.Context, cfg *config.Config) (extractor.Source, error) {
	if cfg.SourceDSN == "" {
		logger.Get().Info(ctx, "no source_dsn configured, using simulated source")
		return extractor.NewSimulatedSource(), nil
	}
	return extractor.NewPostgresSource(ctx, cfg.SourceDSN)
}

// seedBaselines writes the configured industry baselines into the store so
// the calculator reads configuration and persisted baselines the same way.
func seedBaselines(ctx context.Context, store repository.BaselineStore, baselines map[string]float64) error {
	for industry, s := range baselines {
		b := model.IndustryBaseline{Industry: industry, Score: s}
		if err := store.PutBaseline(ctx, b); err != nil {
			return err
		}
	}
	metrics.UpdateBaselinesLoaded(len(baselines))
	return nil
}
