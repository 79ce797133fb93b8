package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a scan job. Processing is implicit: a
// queued job with a live lease is being worked on.
type Status string

const (
	StatusQueued          Status = "queued"
	StatusBackImage       Status = "back_image"
	StatusOperatorPending Status = "operator_pending"
	StatusUnmatched       Status = "unmatched_no_reasonable_candidate"
	StatusAccepted        Status = "accepted"
	StatusFailed          Status = "failed"
)

// Orientation distinguishes front and back card-side captures.
type Orientation string

const (
	OrientationFront Orientation = "front"
	OrientationBack  Orientation = "back"
)

var allStatuses = []Status{
	StatusQueued,
	StatusBackImage,
	StatusOperatorPending,
	StatusUnmatched,
	StatusAccepted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the job's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusFailed
}

// Extraction holds the structured attributes an inference provider read off a
// card image. Every field is optional; providers fill what they can.
type Extraction struct {
	CardName        string   `json:"card_name,omitempty"`
	HPValue         int      `json:"hp_value,omitempty"`
	CollectorNumber string   `json:"collector_number,omitempty"`
	SetName         string   `json:"set_name,omitempty"`
	SetSymbol       string   `json:"set_symbol,omitempty"`
	Rarity          string   `json:"rarity,omitempty"`
	VariantTags     []string `json:"variant_tags,omitempty"`
	Language        string   `json:"language,omitempty"`
}

// HasSet reports whether the set attribute has been resolved.
func (e Extraction) HasSet() bool {
	return strings.TrimSpace(e.SetName) != ""
}

// Candidate is one ranked catalog match offered to the operator.
type Candidate struct {
	CMCardID        string  `json:"cm_card_id"`
	CardName        string  `json:"card_name"`
	SetName         string  `json:"set_name,omitempty"`
	CollectorNumber string  `json:"collector_number,omitempty"`
	Confidence      float64 `json:"confidence"`
	Source          string  `json:"source,omitempty"`
}

// TruthCore carries the operator-confirmed attributes persisted on Accept.
type TruthCore struct {
	CardName        string   `json:"card_name"`
	HPValue         int      `json:"hp_value,omitempty"`
	CollectorNumber string   `json:"collector_number,omitempty"`
	SetName         string   `json:"set_name,omitempty"`
	VariantTags     []string `json:"variant_tags,omitempty"`
	Language        string   `json:"language,omitempty"`
}

// Timings maps stage names to elapsed milliseconds.
type Timings map[string]int64

// Merge overlays other onto t, returning the result. Nil receivers are fine.
func (t Timings) Merge(other Timings) Timings {
	if len(other) == 0 {
		return t
	}
	merged := make(Timings, len(t)+len(other))
	for k, v := range t {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// ScanJob represents one physical card-side capture moving through the
// pipeline.
type ScanJob struct {
	ID         string
	CaptureUID string
	SessionID  string
	Status     Status

	ImagePath          string
	RawImagePath       string
	BackImagePath      string
	CorrectedImagePath string
	ProcessedImagePath string
	MasterImagePath    string
	MasterCDNURL       string
	ScanOrientation    Orientation

	Extracted     *Extraction
	TopCandidates []Candidate
	InferencePath string
	RerankNote    string

	RetryCount      int
	PPTFailureCount int
	Timings         Timings

	ProcessorID string
	LockedAt    *time.Time

	// ReclaimedFrom records the processor whose expired lease this claim
	// took over. Set only on the job returned by ClaimNext, never stored.
	ReclaimedFrom string

	ErrorCode    string
	ErrorMessage string

	ItemUID    string
	ProductSKU string
	ListingSKU string
	CMCardID   string
	TruthCore  *TruthCore

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Leased reports whether the job holds a lease that is still live at now.
func (j *ScanJob) Leased(now time.Time, leaseTimeout time.Duration) bool {
	if j.LockedAt == nil {
		return false
	}
	return now.Sub(*j.LockedAt) < leaseTimeout
}

// BestConfidence returns the highest candidate confidence, or zero when no
// candidates are attached.
func (j *ScanJob) BestConfidence() float64 {
	best := 0.0
	for _, candidate := range j.TopCandidates {
		if candidate.Confidence > best {
			best = candidate.Confidence
		}
	}
	return best
}
