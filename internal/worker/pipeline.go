package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"cardmint/internal/catalog"
	"cardmint/internal/logging"
	"cardmint/internal/metrics"
	"cardmint/internal/queue"
	"cardmint/internal/services"
	"cardmint/internal/services/imaging"
	"cardmint/internal/services/inference"
	"cardmint/internal/services/rerank"
)

// Stage timing keys persisted on every job.
const (
	timingDistortion = "distortion_ms"
	timingMasterCrop = "master_crop_ms"
	timingCompress   = "compress_ms"
	timingInference  = "inference_ms"
	timingRerank     = "rerank_ms"
	timingRetrieval  = "retrieval_ms"
	timingTotal      = "pipeline_total_ms"
)

// fallbackCandidateConfidence is the confidence assigned when candidate
// retrieval fails or returns nothing. It is deliberately below any match
// threshold so degraded retrieval can never auto-route a job.
const fallbackCandidateConfidence = 0.1

// processJob runs the full stage pipeline for a claimed job. All failure
// handling persists job state before returning; the returned error is for
// logging and shutdown propagation only.
func (w *Worker) processJob(ctx context.Context, job *queue.ScanJob) error {
	started := w.now()
	ctx = services.WithJobID(ctx, job.ID)
	logger := w.logger.With(logging.String(logging.FieldJobID, job.ID))
	logger.Info("processing scan",
		logging.String(logging.FieldEventType, "job_started"),
		logging.String("image_path", job.ImagePath))

	timings := make(queue.Timings)

	currentPath, masterPath := w.runImaging(ctx, job, timings, logger)
	updated, err := w.deps.Queue.UpdateImagePaths(ctx, job.ID, job.CorrectedImagePath, masterPath, currentPath)
	if err != nil {
		return w.failJob(ctx, job, services.Wrap(nil, "persist", "update_paths", "persisting image paths", err), logger)
	}
	job = updated

	extracted, inferencePath, err := w.runInference(ctx, currentPath, timings, logger)
	if err != nil {
		return w.handleInferenceFailure(ctx, job, err, logger)
	}

	setHint := w.runRerank(ctx, job, &extracted, inferencePath, timings, logger)
	if setHint == "" && extracted.HasSet() {
		setHint = extracted.SetName
	}

	candidates := w.retrieveCandidates(ctx, extracted, setHint, timings, logger)

	timings[timingTotal] = w.now().Sub(started).Milliseconds()
	return w.finishJob(ctx, job, extracted, candidates, inferencePath, timings, logger)
}

// runImaging executes the configured correction stages in order. Every stage
// is best-effort: an unconfigured stage passes the image through unchanged,
// and a failing stage is logged and skipped so the pipeline continues with
// the previous image. Returns the path candidate images should be inferred
// from and the archival master.
func (w *Worker) runImaging(ctx context.Context, job *queue.ScanJob, timings queue.Timings, logger *slog.Logger) (processed, master string) {
	currentPath := job.ImagePath
	if job.CorrectedImagePath != "" {
		currentPath = job.CorrectedImagePath
	}

	if out, elapsed, stageErr := w.runStage(ctx, w.deps.Distortion, currentPath); stageErr != nil {
		w.logStageDegrade(logger, "distortion", stageErr)
	} else if out != "" {
		currentPath = out
		job.CorrectedImagePath = out
		timings[timingDistortion] = elapsed
	}

	if out, elapsed, stageErr := w.runStage(ctx, w.deps.MasterCrop, currentPath); stageErr != nil {
		w.logStageDegrade(logger, "master_crop", stageErr)
	} else if out != "" {
		master = out
		timings[timingMasterCrop] = elapsed
	}

	compressInput := currentPath
	if master != "" {
		compressInput = master
	}
	if out, elapsed, stageErr := w.runStage(ctx, w.deps.Compress, compressInput); stageErr != nil {
		w.logStageDegrade(logger, "compress", stageErr)
	} else if out != "" {
		currentPath = out
		timings[timingCompress] = elapsed
	}

	return currentPath, master
}

// logStageDegrade records an imaging stage failure. Imaging stages never fail
// the job; the pipeline keeps the last good image and moves on.
func (w *Worker) logStageDegrade(logger *slog.Logger, stage string, err error) {
	logger.Warn("imaging stage failed, continuing with previous image",
		logging.String(logging.FieldStage, stage),
		logging.String(logging.FieldErrorCode, services.ErrorCode(err)),
		logging.Error(err))
}

// runStage executes one imaging collaborator. Unconfigured stages report
// success with an empty path so the pipeline skips them.
func (w *Worker) runStage(ctx context.Context, stage *imaging.Stage, inputPath string) (string, int64, error) {
	if stage == nil || !stage.Configured() {
		return "", 0, nil
	}
	result, err := stage.Process(ctx, inputPath)
	if err != nil {
		return "", 0, err
	}
	return result.OutputPath, result.ProcessingTimeMs, nil
}

// runInference extracts card attributes from the processed image. The primary
// provider is tried first when configured; any primary failure downgrades to
// the always-available fallback provider rather than failing the job.
func (w *Worker) runInference(ctx context.Context, imagePath string, timings queue.Timings, logger *slog.Logger) (queue.Extraction, string, error) {
	start := w.now()
	defer func() {
		timings[timingInference] = w.now().Sub(start).Milliseconds()
	}()

	if w.deps.Primary != nil {
		result, err := w.deps.Primary.Infer(ctx, imagePath)
		if err == nil {
			w.deps.Metrics.Counter(metrics.InferencePrimary).Add(1)
			return result.Extracted, inference.PathA, nil
		}
		var fallbackErr *inference.FallbackError
		if !errors.As(err, &fallbackErr) {
			return queue.Extraction{}, "", err
		}
		logger.Warn("primary inference unavailable, falling back",
			logging.String(logging.FieldInferencePath, inference.PathA),
			logging.Error(fallbackErr.Cause))
	}

	if w.deps.Fallback == nil {
		return queue.Extraction{}, "", services.Wrap(services.ErrConfiguration, "inference", "fallback", "no inference provider configured", nil)
	}
	result, err := w.deps.Fallback.Infer(ctx, imagePath)
	if err != nil {
		return queue.Extraction{}, "", err
	}
	w.deps.Metrics.Counter(metrics.InferenceFallback).Add(1)
	return result.Extracted, inference.PathB, nil
}

// runRerank asks the set-disambiguation service to resolve an ambiguous set
// name. Only primary-path extractions missing a set are eligible. High-band
// answers overwrite the extraction; medium-band answers become a retrieval
// hint; anything else is discarded. Rerank problems never fail the job.
func (w *Worker) runRerank(ctx context.Context, job *queue.ScanJob, extracted *queue.Extraction, inferencePath string, timings queue.Timings, logger *slog.Logger) string {
	if w.deps.Reranker == nil || !w.deps.Reranker.Enabled() {
		return ""
	}
	if inferencePath != inference.PathA || extracted.HasSet() {
		return ""
	}

	start := w.now()
	outcome, err := w.deps.Reranker.Disambiguate(ctx, *extracted)
	timings[timingRerank] = w.now().Sub(start).Milliseconds()
	if err != nil {
		w.noteRerank(ctx, job, fmt.Sprintf("rerank error: %v", err), logger)
		return ""
	}

	switch outcome.Band {
	case rerank.BandHigh:
		extracted.SetName = outcome.SetName
		w.deps.Metrics.Counter(metrics.RerankOverwrites).Add(1)
		w.noteRerank(ctx, job, fmt.Sprintf("rerank overwrote set to %q (%.2f)", outcome.SetName, outcome.Confidence), logger)
		return ""
	case rerank.BandMedium:
		w.deps.Metrics.Counter(metrics.RerankHints).Add(1)
		w.noteRerank(ctx, job, fmt.Sprintf("rerank hinted set %q (%.2f)", outcome.SetName, outcome.Confidence), logger)
		return outcome.SetName
	default:
		w.deps.Metrics.Counter(metrics.RerankDiscards).Add(1)
		w.noteRerank(ctx, job, fmt.Sprintf("rerank discarded (%.2f)", outcome.Confidence), logger)
		return ""
	}
}

func (w *Worker) noteRerank(ctx context.Context, job *queue.ScanJob, note string, logger *slog.Logger) {
	if _, err := w.deps.Queue.SetRerankNote(ctx, job.ID, note); err != nil {
		logger.Warn("failed to persist rerank note", logging.Error(err))
	}
}

// retrieveCandidates queries the catalog for ranked matches. Retrieval
// failures and empty result sets degrade to a single low-confidence synthetic
// candidate so the job still reaches a routing decision.
func (w *Worker) retrieveCandidates(ctx context.Context, extracted queue.Extraction, setHint string, timings queue.Timings, logger *slog.Logger) []queue.Candidate {
	start := w.now()
	defer func() {
		timings[timingRetrieval] = w.now().Sub(start).Milliseconds()
	}()

	limit := w.cfg.Pipeline.CandidateLimit
	if limit <= 0 {
		limit = 5
	}
	if w.deps.Catalog != nil {
		candidates, err := w.deps.Catalog.Search(ctx, extracted, limit, setHint)
		if err == nil && len(candidates) > 0 {
			return candidates
		}
		if err != nil {
			logger.Warn("candidate retrieval degraded",
				logging.Error(err),
				logging.String(logging.FieldEventType, "retrieval_degraded"))
		}
	}

	w.deps.Metrics.Counter(metrics.RetrievalFallbacks).Add(1)
	return []queue.Candidate{{
		CMCardID:        catalog.SyntheticID(extracted.CardName, extracted.CollectorNumber),
		CardName:        extracted.CardName,
		CollectorNumber: extracted.CollectorNumber,
		Confidence:      fallbackCandidateConfidence,
		Source:          "fallback",
	}}
}

// finishJob routes the job by candidate confidence. A fresh read guards
// against concurrent reclassification: back-side captures withhold candidates
// and park in the back-image holding state instead.
func (w *Worker) finishJob(ctx context.Context, job *queue.ScanJob, extracted queue.Extraction, candidates []queue.Candidate, inferencePath string, timings queue.Timings, logger *slog.Logger) error {
	current, err := w.deps.Queue.GetByID(ctx, job.ID)
	if err != nil {
		return w.failJob(ctx, job, services.Wrap(nil, "decide", "reload", "reloading job before decision", err), logger)
	}
	if current != nil && current.ScanOrientation == queue.OrientationBack {
		logger.Info("capture reclassified as back side, withholding candidates",
			logging.String(logging.FieldEventType, "back_image_guard"))
		if _, err := w.deps.Queue.UpdateTimings(ctx, job.ID, timings); err != nil {
			logger.Warn("failed to persist timings", logging.Error(err))
		}
		_, err := w.deps.Queue.UpdateStatus(ctx, job.ID, queue.StatusBackImage)
		return err
	}

	if _, err := w.deps.Queue.AttachCandidates(ctx, job.ID, &extracted, candidates, inferencePath); err != nil {
		return w.failJob(ctx, job, services.Wrap(nil, "decide", "attach_candidates", "persisting candidates", err), logger)
	}
	if _, err := w.deps.Queue.UpdateTimings(ctx, job.ID, timings); err != nil {
		logger.Warn("failed to persist timings", logging.Error(err))
	}

	best := bestConfidence(candidates)
	threshold := w.cfg.Pipeline.MatchThreshold
	if threshold <= 0 {
		threshold = 0.70
	}

	if best < threshold {
		if _, err := w.deps.Queue.IncrementPPTFailures(ctx, job.ID); err != nil {
			logger.Warn("failed to increment ppt failures", logging.Error(err))
		}
		if _, err := w.deps.Queue.UpdateStatus(ctx, job.ID, queue.StatusUnmatched); err != nil {
			return err
		}
		w.deps.Metrics.Counter(metrics.JobsUnmatched).Add(1)
		logger.Info("no reasonable candidate",
			logging.String(logging.FieldEventType, "job_unmatched"),
			logging.Float64("best_confidence", best),
			logging.String(logging.FieldInferencePath, inferencePath))
		if err := w.deps.Notifier.NotifyUnmatched(ctx, extracted.CardName, best); err != nil {
			logger.Warn("unmatched notification failed", logging.Error(err))
		}
		w.earmark(ctx, job.ID)
		return nil
	}

	updated, err := w.deps.Queue.UpdateStatus(ctx, job.ID, queue.StatusOperatorPending)
	if err != nil {
		return err
	}
	logger.Info("awaiting operator review",
		logging.String(logging.FieldEventType, "job_operator_pending"),
		logging.Float64("best_confidence", best),
		logging.String(logging.FieldInferencePath, inferencePath))
	if err := w.deps.Notifier.NotifyOperatorPending(ctx, extracted.CardName, best); err != nil {
		logger.Warn("operator notification failed", logging.Error(err))
	}
	w.earmark(ctx, updated.ID)
	return nil
}

// handleInferenceFailure requeues transient inference failures with
// exponential backoff until the retry budget runs out, then fails the job.
func (w *Worker) handleInferenceFailure(ctx context.Context, job *queue.ScanJob, inferErr error, logger *slog.Logger) error {
	maxRetries := w.cfg.Pipeline.MaxRetries
	if services.IsTransient(inferErr) && job.RetryCount < maxRetries {
		backoff := retryBackoff(w.cfg.Pipeline.RetryBackoffSeconds, job.RetryCount)
		logger.Warn("transient inference failure, requeueing",
			logging.Error(inferErr),
			logging.Int("retry_count", job.RetryCount+1),
			logging.Duration("backoff", backoff),
			logging.String(logging.FieldEventType, "job_requeued"))
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
		if _, err := w.deps.Queue.IncrementRetry(ctx, job.ID); err != nil {
			return err
		}
		if _, err := w.deps.Queue.UpdateStatus(ctx, job.ID, queue.StatusQueued); err != nil {
			return err
		}
		w.deps.Metrics.Counter(metrics.JobsRequeued).Add(1)
		return nil
	}
	return w.failJob(ctx, job, inferErr, logger)
}

// failJob records a terminal failure and notifies the error channel. The
// failure is fully handled here, so callers propagate nil.
func (w *Worker) failJob(ctx context.Context, job *queue.ScanJob, cause error, logger *slog.Logger) error {
	code := services.ErrorCode(cause)
	logger.Error("scan processing failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorCode, code),
		logging.String(logging.FieldEventType, "job_failed"))
	if _, err := w.deps.Queue.MarkError(ctx, job.ID, code, cause.Error()); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
	}
	w.deps.Metrics.Counter(metrics.JobsFailed).Add(1)
	if err := w.deps.Notifier.NotifyError(ctx, cause, "scan pipeline"); err != nil {
		logger.Warn("error notification failed", logging.Error(err))
	}
	return nil
}

func (w *Worker) earmark(ctx context.Context, jobID string) {
	if w.deps.ShadowLane == nil {
		return
	}
	job, err := w.deps.Queue.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	if w.deps.ShadowLane.Earmark(job) {
		w.deps.Metrics.Counter(metrics.ShadowSampled).Add(1)
	}
}

func bestConfidence(candidates []queue.Candidate) float64 {
	best := 0.0
	for _, c := range candidates {
		if c.Confidence > best {
			best = c.Confidence
		}
	}
	return best
}

func retryBackoff(baseSeconds, retryCount int) time.Duration {
	if baseSeconds <= 0 {
		return 0
	}
	multiplier := math.Pow(2, float64(retryCount))
	backoff := time.Duration(float64(baseSeconds)*multiplier) * time.Second
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
