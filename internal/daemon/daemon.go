// Package daemon assembles the scan pipeline services into a single
// lifecycle with flock-based locking to prevent multiple instances from
// sharing one data directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cardmint/internal/api"
	"cardmint/internal/catalog"
	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/inventory"
	"cardmint/internal/logging"
	"cardmint/internal/metrics"
	"cardmint/internal/notifications"
	"cardmint/internal/preflight"
	"cardmint/internal/queue"
	"cardmint/internal/services/imaging"
	"cardmint/internal/services/inference"
	"cardmint/internal/services/rerank"
	"cardmint/internal/shadowlane"
	"cardmint/internal/worker"
)

// Daemon owns every long-lived component: the job store, the worker loop,
// the HTTP API, and the event bus they share.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *queue.Store
	bus       *events.Bus
	queue     *queue.Queue
	catalog   *catalog.Store
	inventory *inventory.Engine
	metrics   *metrics.Registry
	worker    *worker.Worker
	apiServer *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New builds the daemon and all its collaborators from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	bus := events.NewBus(0)
	backTTL := time.Duration(cfg.Workflow.BackCaptureTTLSeconds) * time.Second
	q := queue.New(store, bus, backTTL)

	catalogStore, err := catalog.New(store.DB())
	if err != nil {
		store.Close()
		return nil, err
	}
	inventoryStore, err := inventory.NewStore(store.DB())
	if err != nil {
		store.Close()
		return nil, err
	}
	engine := inventory.NewEngine(inventoryStore, catalogStore, nil, logger)

	registry := metrics.NewRegistry()
	notifier := notifications.NewService(cfg)
	lane := shadowlane.New(cfg.ShadowLane, bus, logger)

	stageTimeout := time.Duration(cfg.Pipeline.StageTimeoutSeconds) * time.Second
	deps := worker.Deps{
		Queue:      q,
		Catalog:    catalogStore,
		Notifier:   notifier,
		ShadowLane: lane,
		Metrics:    registry,
		Logger:     logger,
		Distortion: imaging.NewStage("distortion", cfg.Imaging.DistortionCmd, cfg.Paths.CorrectedDir, stageTimeout),
		MasterCrop: imaging.NewStage("master_crop", cfg.Imaging.MasterCropCmd, cfg.Paths.MasterDir, stageTimeout),
		Compress:   imaging.NewStage("compress", cfg.Imaging.CompressCmd, cfg.Paths.ProcessedDir, stageTimeout),
	}
	if cfg.Inference.PrimaryBaseURL != "" {
		deps.Primary = inference.NewPrimary(inference.PrimaryConfig{
			APIKey:         cfg.Inference.PrimaryAPIKey,
			BaseURL:        cfg.Inference.PrimaryBaseURL,
			Model:          cfg.Inference.PrimaryModel,
			TimeoutSeconds: cfg.Inference.PrimaryTimeoutSeconds,
		})
	}
	if cfg.Inference.FallbackBaseURL != "" {
		deps.Fallback = inference.NewFallback(inference.FallbackConfig{
			BaseURL:        cfg.Inference.FallbackBaseURL,
			Model:          cfg.Inference.FallbackModel,
			TimeoutSeconds: cfg.Inference.FallbackTimeoutSeconds,
		})
	}
	if cfg.Rerank.Enabled {
		deps.Reranker = rerank.New(rerank.Config{
			Enabled:        true,
			BaseURL:        cfg.Rerank.BaseURL,
			APIKey:         cfg.Rerank.APIKey,
			TimeoutSeconds: cfg.Rerank.TimeoutSeconds,
			HighConfidence: cfg.Rerank.HighConfidence,
			LowConfidence:  cfg.Rerank.LowConfidence,
		})
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "cardmintd.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:     store,
		bus:       bus,
		queue:     q,
		catalog:   catalogStore,
		inventory: engine,
		metrics:   registry,
		worker:    worker.New(cfg, deps),
		apiServer: api.NewServer(cfg, q, engine, registry, bus, logger),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Queue exposes the job queue for command-layer access.
func (d *Daemon) Queue() *queue.Queue { return d.queue }

// Catalog exposes the card catalog for ingestion commands.
func (d *Daemon) Catalog() *catalog.Store { return d.catalog }

// APIAddr returns the bound API listen address once started.
func (d *Daemon) APIAddr() string { return d.apiServer.Addr() }

// Start acquires the instance lock and launches the worker and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another cardmint daemon already holds %s", d.lockPath)
	}

	for _, result := range preflight.RunAll(ctx, d.cfg) {
		if result.Passed {
			d.logger.Debug("preflight passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.apiServer.Start(runCtx); err != nil {
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}
	if err := d.worker.Start(runCtx); err != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.apiServer.Shutdown(shutdownCtx)
		shutdownCancel()
		d.releaseLock()
		cancel()
		d.cancel = nil
		return fmt.Errorf("start worker: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("cardmint daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.apiServer.Addr()))
	return nil
}

// Stop halts processing, drains the API, and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.apiServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("api shutdown", logging.Error(err))
	}
	d.worker.Stop()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("cardmint daemon stopped")
}

// Close stops the daemon and releases storage resources.
func (d *Daemon) Close() error {
	d.Stop()
	d.queue.Close()
	d.bus.Close()
	return d.store.Close()
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release instance lock", logging.Error(err))
	}
}
