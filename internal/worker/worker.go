// Package worker runs the scan processing loop: claim a job, run the stage
// pipeline to completion, repeat. Multiple worker processes may share one job
// store; the atomic lease claim is the only coordination between them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"cardmint/internal/catalog"
	"cardmint/internal/config"
	"cardmint/internal/logging"
	"cardmint/internal/metrics"
	"cardmint/internal/notifications"
	"cardmint/internal/queue"
	"cardmint/internal/services/imaging"
	"cardmint/internal/services/inference"
	"cardmint/internal/services/rerank"
	"cardmint/internal/shadowlane"
)

// Deps bundles the collaborators a worker drives.
type Deps struct {
	Queue      *queue.Queue
	Catalog    *catalog.Store
	Primary    *inference.Primary
	Fallback   *inference.Fallback
	Reranker   *rerank.Client
	Distortion *imaging.Stage
	MasterCrop *imaging.Stage
	Compress   *imaging.Stage
	Notifier   notifications.Service
	ShadowLane *shadowlane.Lane
	Metrics    *metrics.Registry
	Logger     *slog.Logger
}

// Worker is one cooperative poll loop over the shared job store.
type Worker struct {
	cfg         *config.Config
	deps        Deps
	logger      *slog.Logger
	processorID string

	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
	idleAt  time.Time
	warmed  bool
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a worker. Nil optional deps (imaging stages, reranker,
// notifier, shadow lane, metrics) disable their stage.
func New(cfg *config.Config, deps Deps) *Worker {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	hostname, _ := os.Hostname()
	return &Worker{
		cfg:         cfg,
		deps:        deps,
		logger:      logger.With(logging.String(logging.FieldComponent, "worker")),
		processorID: fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8]),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

// ProcessorID identifies this worker in job leases.
func (w *Worker) ProcessorID() string { return w.processorID }

// Start begins background processing.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.idleAt = w.now()
	w.wg.Add(1)
	w.mu.Unlock()

	go w.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for completion.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	pollInterval := time.Duration(w.cfg.Workflow.QueuePollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	errorRetry := time.Duration(w.cfg.Workflow.ErrorRetryInterval) * time.Second
	if errorRetry <= 0 {
		errorRetry = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := w.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("poll cycle failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "poll_failed"),
				logging.String(logging.FieldErrorHint, "check job store access"))
			if w.sleep(ctx, errorRetry) != nil {
				return
			}
			continue
		}
		if !worked {
			w.maybeKeepwarm(ctx)
			if w.sleep(ctx, pollInterval) != nil {
				return
			}
		}
	}
}

// ProcessNext observes queue depth, claims at most one job, and runs its
// pipeline to completion. Returns whether a job was processed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	depth, err := w.deps.Queue.Depth(ctx)
	if err != nil {
		return false, fmt.Errorf("queue depth: %w", err)
	}
	w.deps.Metrics.Gauge(metrics.QueueDepth).Store(int64(depth))
	if w.deps.ShadowLane != nil {
		enabled := w.deps.ShadowLane.Observe(depth)
		var flag int64
		if enabled {
			flag = 1
		}
		w.deps.Metrics.Gauge(metrics.ShadowGateEnabled).Store(flag)
	}

	leaseTimeout := time.Duration(w.cfg.Workflow.LeaseTimeout) * time.Second
	if leaseTimeout <= 0 {
		leaseTimeout = 5 * time.Minute
	}
	job, err := w.deps.Queue.ClaimNextPending(ctx, w.processorID, leaseTimeout)
	if err != nil {
		return false, fmt.Errorf("claim next: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.mu.Lock()
	w.idleAt = w.now()
	w.warmed = false
	w.mu.Unlock()
	w.deps.Metrics.Counter(metrics.JobsClaimed).Add(1)
	if job.ReclaimedFrom != "" {
		w.logger.Warn("reclaimed job with expired lease",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("previous_processor", job.ReclaimedFrom),
			logging.String(logging.FieldProcessorID, w.processorID))
	}

	if err := w.processJob(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			return true, err
		}
		// processJob persists its own failure state; this is belt and braces
		// for errors that escaped it.
		w.logger.Error("pipeline error escaped",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
	return true, nil
}

// maybeKeepwarm fires a one-shot fallback-provider probe after the configured
// idle window. Best-effort: failures are logged and never touch job state.
func (w *Worker) maybeKeepwarm(ctx context.Context) {
	threshold := time.Duration(w.cfg.Workflow.IdleKeepwarmSeconds) * time.Second
	if threshold <= 0 || w.deps.Fallback == nil {
		return
	}
	w.mu.Lock()
	idle := w.now().Sub(w.idleAt)
	fire := idle >= threshold && !w.warmed
	if fire {
		w.warmed = true
		w.idleAt = w.now()
	}
	w.mu.Unlock()
	if !fire {
		return
	}

	w.deps.Metrics.Counter(metrics.KeepwarmProbes).Add(1)
	if err := w.deps.Fallback.Warmup(ctx); err != nil {
		w.logger.Warn("keepwarm probe failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "keepwarm_failed"))
		return
	}
	w.logger.Debug("keepwarm probe sent", logging.Duration("idle", idle))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
