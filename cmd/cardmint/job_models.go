package main

import "time"

// jobPayload mirrors the daemon's job wire shape.
type jobPayload struct {
	ID         string `json:"id"`
	CaptureUID string `json:"capture_uid,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Status     string `json:"status"`

	ImagePath          string `json:"image_path"`
	ProcessedImagePath string `json:"processed_image_path,omitempty"`
	Orientation        string `json:"orientation,omitempty"`

	Extracted *struct {
		CardName        string `json:"card_name,omitempty"`
		HPValue         int    `json:"hp_value,omitempty"`
		CollectorNumber string `json:"collector_number,omitempty"`
		SetName         string `json:"set_name,omitempty"`
	} `json:"extracted,omitempty"`
	TopCandidates []struct {
		CMCardID   string  `json:"cm_card_id"`
		CardName   string  `json:"card_name"`
		SetName    string  `json:"set_name,omitempty"`
		Confidence float64 `json:"confidence"`
		Source     string  `json:"source,omitempty"`
	} `json:"top_candidates,omitempty"`
	InferencePath string `json:"inference_path,omitempty"`

	RetryCount      int `json:"retry_count"`
	PPTFailureCount int `json:"ppt_failure_count"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	ItemUID    string `json:"item_uid,omitempty"`
	ProductSKU string `json:"product_sku,omitempty"`
	ListingSKU string `json:"listing_sku,omitempty"`
	CMCardID   string `json:"cm_card_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type acceptPayload struct {
	Job                  jobPayload `json:"job"`
	Action               string     `json:"action,omitempty"`
	ItemUID              string     `json:"item_uid,omitempty"`
	ProductSKU           string     `json:"product_sku,omitempty"`
	ListingSKU           string     `json:"listing_sku,omitempty"`
	CMCardID             string     `json:"cm_card_id,omitempty"`
	CanonicalConfidence  float64    `json:"canonical_confidence,omitempty"`
	FingerprintCollision bool       `json:"fingerprint_collision,omitempty"`
}
