package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cardmint/internal/events"
)

// Minter is the slice of the dedup/canonicalization engine the Accept
// transition depends on. Implemented by inventory.Engine.
type Minter interface {
	MintOrAttach(ctx context.Context, req MintRequest) (MintResult, error)
}

// MintRequest carries everything the engine needs to mint or attach inventory
// for an accepted scan.
type MintRequest struct {
	JobID              string
	ProcessedImagePath string
	Truth              TruthCore
	Condition          string
}

// MintResult reports how a scan was reconciled against inventory.
type MintResult struct {
	// Action is "mint" for a fresh Product+Item or "attach" when the scan
	// fingerprint matched an existing submission.
	Action               string
	ItemUID              string
	ProductSKU           string
	ListingSKU           string
	CMCardID             string
	CanonicalConfidence  float64
	FingerprintCollision bool
}

// EnqueueOptions describes a new capture to enqueue.
type EnqueueOptions struct {
	ImagePath       string
	RawImagePath    string
	CaptureUID      string
	SessionID       string
	ScanOrientation Orientation
}

// Queue is the mutation façade over the Store. Every mutation re-reads the
// fresh record after writing and publishes a typed event on the bus.
type Queue struct {
	store *Store
	bus   *events.Bus

	backCaptures *ttlMap
}

// New constructs a Queue. backCaptureTTL bounds how long a front scan waits
// for its back-side capture before the correlation expires.
func New(store *Store, bus *events.Bus, backCaptureTTL time.Duration) *Queue {
	return &Queue{
		store:        store,
		bus:          bus,
		backCaptures: newTTLMap(backCaptureTTL),
	}
}

// Close releases queue-owned resources (the correlation janitor). The Store
// is owned by the caller and stays open.
func (q *Queue) Close() {
	q.backCaptures.stop()
}

// Store exposes the underlying store for read-only consumers.
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue creates a job in the queued state with zeroed retry and timing
// fields and returns the created record.
func (q *Queue) Enqueue(ctx context.Context, opts EnqueueOptions) (*ScanJob, error) {
	if strings.TrimSpace(opts.ImagePath) == "" {
		return nil, errors.New("image path required")
	}
	orientation := opts.ScanOrientation
	if orientation == "" {
		orientation = OrientationFront
	}

	job := &ScanJob{
		ID:              uuid.NewString(),
		CaptureUID:      opts.CaptureUID,
		SessionID:       opts.SessionID,
		Status:          StatusQueued,
		ImagePath:       opts.ImagePath,
		RawImagePath:    opts.RawImagePath,
		ScanOrientation: orientation,
	}
	if err := q.store.Insert(ctx, job); err != nil {
		return nil, err
	}

	fresh, err := q.store.GetByID(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	q.publish(events.TypeJobQueued, fresh, nil)
	return fresh, nil
}

// ClaimNextPending atomically leases the next eligible job for processorID.
// Returns (nil, nil) when nothing is claimable.
func (q *Queue) ClaimNextPending(ctx context.Context, processorID string, leaseTimeout time.Duration) (*ScanJob, error) {
	job, err := q.store.ClaimNext(ctx, processorID, leaseTimeout)
	if err != nil || job == nil {
		return job, err
	}
	q.publish(events.TypeFrontLocked, job, map[string]any{"processor_id": processorID})
	return job, nil
}

// ReleaseJob clears the lease without changing status, making the job
// claimable again.
func (q *Queue) ReleaseJob(ctx context.Context, id string) (*ScanJob, error) {
	if err := q.store.ReleaseLease(ctx, id); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// UpdateStatus transitions a job to status, clearing the lease when the
// target state is no longer being processed.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status Status) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = status
	job.ProcessorID = ""
	job.LockedAt = nil
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// Requeue returns a terminal job to the queue for a fresh pipeline pass.
// Stale error fields and the spent retry budget are cleared so the next
// transient failure starts a new backoff sequence.
func (q *Queue) Requeue(ctx context.Context, id string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = StatusQueued
	job.RetryCount = 0
	job.ErrorCode = ""
	job.ErrorMessage = ""
	job.ProcessorID = ""
	job.LockedAt = nil
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// UpdateTimings merges per-stage durations into the job's timing map.
func (q *Queue) UpdateTimings(ctx context.Context, id string, timings Timings) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Timings = job.Timings.Merge(timings)
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// AttachCandidates records the extraction, ranked candidates, and inference
// path on the job without changing status.
func (q *Queue) AttachCandidates(ctx context.Context, id string, extracted *Extraction, candidates []Candidate, inferencePath string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Extracted = extracted
	job.TopCandidates = candidates
	job.InferencePath = inferencePath
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// UpdateImagePaths records stage outputs on the job. Empty arguments leave
// the corresponding field untouched.
func (q *Queue) UpdateImagePaths(ctx context.Context, id, corrected, master, processed string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if corrected != "" {
		job.CorrectedImagePath = corrected
	}
	if master != "" {
		job.MasterImagePath = master
	}
	if processed != "" {
		job.ProcessedImagePath = processed
	}
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// SetRerankNote records Path C telemetry without changing anything else.
func (q *Queue) SetRerankNote(ctx context.Context, id, note string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.RerankNote = note
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// MarkError terminally fails the job with a structured code and message and
// clears the lease.
func (q *Queue) MarkError(ctx context.Context, id, code, message string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = StatusFailed
	job.ErrorCode = code
	job.ErrorMessage = message
	job.ProcessorID = ""
	job.LockedAt = nil
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobFailed, map[string]any{"error_code": code})
}

// IncrementRetry bumps the retry counter and returns the fresh record.
func (q *Queue) IncrementRetry(ctx context.Context, id string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.RetryCount++
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// IncrementPPTFailures bumps the candidate-retrieval failure counter.
func (q *Queue) IncrementPPTFailures(ctx context.Context, id string) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.PPTFailureCount++
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, nil)
}

// AcceptWithTruthCore performs the all-or-nothing Accept transition: validate
// preconditions, mint or attach inventory, then persist the truth core and
// linkage in one update. A minting failure propagates to the caller and
// leaves the job untouched.
func (q *Queue) AcceptWithTruthCore(ctx context.Context, id string, minter Minter, truth TruthCore, condition string, timings Timings) (*ScanJob, MintResult, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, MintResult{}, err
	}
	if strings.TrimSpace(job.ProcessedImagePath) == "" {
		return nil, MintResult{}, fmt.Errorf("job %s has no processed image path", id)
	}
	if minter == nil {
		return nil, MintResult{}, errors.New("minter required")
	}

	// Inventory first. Nothing on the job may change until this succeeds.
	result, err := minter.MintOrAttach(ctx, MintRequest{
		JobID:              job.ID,
		ProcessedImagePath: job.ProcessedImagePath,
		Truth:              truth,
		Condition:          condition,
	})
	if err != nil {
		return nil, MintResult{}, err
	}

	job.Status = StatusAccepted
	job.TruthCore = &truth
	job.ItemUID = result.ItemUID
	job.ProductSKU = result.ProductSKU
	job.ListingSKU = result.ListingSKU
	job.CMCardID = result.CMCardID
	job.Timings = job.Timings.Merge(timings)
	job.ProcessorID = ""
	job.LockedAt = nil
	if err := q.store.Update(ctx, job); err != nil {
		return nil, MintResult{}, fmt.Errorf("persist accept: %w", err)
	}

	fresh, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, MintResult{}, err
	}
	eventType := events.TypeCanonicalMint
	if result.Action == "attach" {
		eventType = events.TypeCanonicalMatch
	}
	q.publish(eventType, fresh, map[string]any{"item_uid": result.ItemUID, "action": result.Action})
	q.publish(events.TypeJobAccepted, fresh, nil)
	return fresh, result, nil
}

// AcceptBaseline persists truth-core values for measurement sessions without
// touching inventory. Kept isolated so instrumentation runs can never pollute
// real inventory.
func (q *Queue) AcceptBaseline(ctx context.Context, id string, truth TruthCore, timings Timings) (*ScanJob, error) {
	job, err := q.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	job.TruthCore = &truth
	job.Timings = job.Timings.Merge(timings)
	if err := q.store.Update(ctx, job); err != nil {
		return nil, err
	}
	return q.reloadAndPublish(ctx, id, events.TypeJobUpdated, map[string]any{"baseline": true})
}

// GetByID fetches a job by identifier.
func (q *Queue) GetByID(ctx context.Context, id string) (*ScanJob, error) {
	return q.store.GetByID(ctx, id)
}

// List returns jobs filtered by status set.
func (q *Queue) List(ctx context.Context, statuses ...Status) ([]*ScanJob, error) {
	return q.store.List(ctx, statuses...)
}

// FindBySession returns jobs for a capture session, oldest first.
func (q *Queue) FindBySession(ctx context.Context, sessionID string) ([]*ScanJob, error) {
	return q.store.FindBySession(ctx, sessionID)
}

// Stats returns job counts grouped by status.
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	return q.store.Stats(ctx)
}

// Depth counts queued jobs.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.store.Depth(ctx)
}

func (q *Queue) mustGet(ctx context.Context, id string) (*ScanJob, error) {
	job, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

func (q *Queue) reloadAndPublish(ctx context.Context, id string, eventType events.Type, payload map[string]any) (*ScanJob, error) {
	fresh, err := q.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	q.publish(eventType, fresh, payload)
	return fresh, nil
}

func (q *Queue) publish(eventType events.Type, job *ScanJob, payload map[string]any) {
	if q.bus == nil || job == nil {
		return
	}
	q.bus.Publish(events.Event{
		Type:    eventType,
		JobID:   job.ID,
		Status:  string(job.Status),
		Payload: payload,
	})
}
