package api

import (
	"time"

	"cardmint/internal/queue"
)

type enqueueRequest struct {
	ImagePath    string `json:"image_path"`
	RawImagePath string `json:"raw_image_path,omitempty"`
	CaptureUID   string `json:"capture_uid,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Orientation  string `json:"orientation,omitempty"`
}

type acceptRequest struct {
	TruthCore queue.TruthCore `json:"truth_core"`
	Condition string          `json:"condition,omitempty"`
	Timings   queue.Timings   `json:"timings,omitempty"`
	// Baseline skips inventory minting and only persists the confirmed
	// attributes on the job.
	Baseline bool `json:"baseline,omitempty"`
}

type acceptResponse struct {
	Job                  jobView `json:"job"`
	Action               string  `json:"action,omitempty"`
	ItemUID              string  `json:"item_uid,omitempty"`
	ProductSKU           string  `json:"product_sku,omitempty"`
	ListingSKU           string  `json:"listing_sku,omitempty"`
	CMCardID             string  `json:"cm_card_id,omitempty"`
	CanonicalConfidence  float64 `json:"canonical_confidence,omitempty"`
	FingerprintCollision bool    `json:"fingerprint_collision,omitempty"`
}

// jobView is the wire shape of a scan job.
type jobView struct {
	ID         string `json:"id"`
	CaptureUID string `json:"capture_uid,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Status     string `json:"status"`

	ImagePath          string `json:"image_path"`
	BackImagePath      string `json:"back_image_path,omitempty"`
	CorrectedImagePath string `json:"corrected_image_path,omitempty"`
	ProcessedImagePath string `json:"processed_image_path,omitempty"`
	MasterImagePath    string `json:"master_image_path,omitempty"`
	Orientation        string `json:"orientation,omitempty"`

	Extracted     *queue.Extraction `json:"extracted,omitempty"`
	TopCandidates []queue.Candidate `json:"top_candidates,omitempty"`
	InferencePath string            `json:"inference_path,omitempty"`
	RerankNote    string            `json:"rerank_note,omitempty"`

	RetryCount      int           `json:"retry_count"`
	PPTFailureCount int           `json:"ppt_failure_count"`
	Timings         queue.Timings `json:"timings,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	ItemUID    string `json:"item_uid,omitempty"`
	ProductSKU string `json:"product_sku,omitempty"`
	ListingSKU string `json:"listing_sku,omitempty"`
	CMCardID   string `json:"cm_card_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newJobView(job *queue.ScanJob) jobView {
	return jobView{
		ID:                 job.ID,
		CaptureUID:         job.CaptureUID,
		SessionID:          job.SessionID,
		Status:             string(job.Status),
		ImagePath:          job.ImagePath,
		BackImagePath:      job.BackImagePath,
		CorrectedImagePath: job.CorrectedImagePath,
		ProcessedImagePath: job.ProcessedImagePath,
		MasterImagePath:    job.MasterImagePath,
		Orientation:        string(job.ScanOrientation),
		Extracted:          job.Extracted,
		TopCandidates:      job.TopCandidates,
		InferencePath:      job.InferencePath,
		RerankNote:         job.RerankNote,
		RetryCount:         job.RetryCount,
		PPTFailureCount:    job.PPTFailureCount,
		Timings:            job.Timings,
		ErrorCode:          job.ErrorCode,
		ErrorMessage:       job.ErrorMessage,
		ItemUID:            job.ItemUID,
		ProductSKU:         job.ProductSKU,
		ListingSKU:         job.ListingSKU,
		CMCardID:           job.CMCardID,
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
	}
}
