package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"cardmint/internal/catalog"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
)

// Engine decides whether an accepted scan is a resubmission of an inventoried
// card or a new physical card needing a freshly minted Product and Item.
// It satisfies the queue's Minter contract.
type Engine struct {
	store       *Store
	catalog     *catalog.Store
	fingerprint Fingerprinter
	logger      *slog.Logger
}

// NewEngine wires the dedup engine. A nil fingerprinter defaults to the
// SHA-256 file hash.
func NewEngine(store *Store, catalogStore *catalog.Store, fingerprinter Fingerprinter, logger *slog.Logger) *Engine {
	if fingerprinter == nil {
		fingerprinter = SHA256Fingerprinter{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:       store,
		catalog:     catalogStore,
		fingerprint: fingerprinter,
		logger:      logger.With(logging.String(logging.FieldComponent, "inventory")),
	}
}

// MintOrAttach fingerprints the processed image, attaches to existing
// inventory on a fingerprint hit, and otherwise mints a new Product and Item.
// Failures propagate uncaught; the Accept transition depends on that to stay
// all-or-nothing.
func (e *Engine) MintOrAttach(ctx context.Context, req queue.MintRequest) (queue.MintResult, error) {
	fingerprint, err := e.fingerprint.Fingerprint(req.ProcessedImagePath)
	if err != nil {
		return queue.MintResult{}, err
	}

	existing, err := e.store.FindScanByFingerprint(ctx, fingerprint)
	if err != nil {
		return queue.MintResult{}, err
	}
	if existing != nil {
		return e.attach(ctx, req, fingerprint, existing)
	}
	return e.mint(ctx, req, fingerprint)
}

func (e *Engine) attach(ctx context.Context, req queue.MintRequest, fingerprint string, existing *Scan) (queue.MintResult, error) {
	scan := Scan{
		ScanID:      uuid.NewString(),
		JobID:       req.JobID,
		Fingerprint: fingerprint,
		ItemUID:     existing.ItemUID,
		ProductSKU:  existing.ProductSKU,
		ListingSKU:  existing.ListingSKU,
		CMCardID:    existing.CMCardID,
	}
	if err := e.store.insertAttach(ctx, scan); err != nil {
		return queue.MintResult{}, err
	}
	e.logger.InfoContext(ctx, "attached resubmitted scan to existing item",
		logging.String(logging.FieldJobID, req.JobID),
		logging.String("item_uid", existing.ItemUID),
		logging.String("fingerprint", fingerprint[:12]))
	return queue.MintResult{
		Action:               "attach",
		ItemUID:              existing.ItemUID,
		ProductSKU:           existing.ProductSKU,
		ListingSKU:           existing.ListingSKU,
		CMCardID:             existing.CMCardID,
		FingerprintCollision: true,
	}, nil
}

func (e *Engine) mint(ctx context.Context, req queue.MintRequest, fingerprint string) (queue.MintResult, error) {
	resolution, err := e.canonicalize(ctx, req.Truth)
	if err != nil {
		return queue.MintResult{}, err
	}

	productSKU := resolution.canonicalSKU + "-" + uuid.NewString()[:8]
	listingSKU := productSKU + "-" + conditionBucket(req.Condition)
	itemUID := uuid.NewString()

	product := Product{
		ProductSKU:          productSKU,
		CanonicalSKU:        resolution.canonicalSKU,
		CMCardID:            resolution.cmCardID,
		CardName:            req.Truth.CardName,
		SetName:             resolution.setName,
		ConditionBucket:     conditionBucket(req.Condition),
		CanonicalConfidence: resolution.confidence,
		NeedsReconciliation: resolution.confidence == 0,
	}
	item := Item{
		ItemUID:           itemUID,
		ProductSKU:        productSKU,
		Quantity:          1,
		AcquisitionSource: "scan",
	}
	scan := Scan{
		ScanID:      uuid.NewString(),
		JobID:       req.JobID,
		Fingerprint: fingerprint,
		ItemUID:     itemUID,
		ProductSKU:  productSKU,
		ListingSKU:  listingSKU,
		CMCardID:    resolution.cmCardID,
	}
	if err := e.store.insertMint(ctx, product, item, scan); err != nil {
		return queue.MintResult{}, err
	}

	e.logger.InfoContext(ctx, "minted inventory for scan",
		logging.String(logging.FieldJobID, req.JobID),
		logging.String("item_uid", itemUID),
		logging.String("cm_card_id", resolution.cmCardID),
		logging.Float64("canonical_confidence", resolution.confidence))
	return queue.MintResult{
		Action:              "mint",
		ItemUID:             itemUID,
		ProductSKU:          productSKU,
		ListingSKU:          listingSKU,
		CMCardID:            resolution.cmCardID,
		CanonicalConfidence: resolution.confidence,
	}, nil
}

type canonicalResolution struct {
	cmCardID     string
	canonicalSKU string
	setName      string
	confidence   float64
}

// canonicalize resolves asserted attributes against the catalog. No hit gives
// a deterministic UNKNOWN_* identity with zero confidence so the item is still
// created and flagged for later reconciliation.
func (e *Engine) canonicalize(ctx context.Context, truth queue.TruthCore) (canonicalResolution, error) {
	if strings.TrimSpace(truth.CardName) == "" {
		return canonicalResolution{}, fmt.Errorf("truth core has no card name")
	}

	match, err := e.catalog.Resolve(ctx, truth.CardName, truth.HPValue, truth.CollectorNumber)
	if err != nil {
		return canonicalResolution{}, err
	}
	if match == nil {
		id := catalog.SyntheticID(truth.CardName, truth.CollectorNumber)
		e.logger.WarnContext(ctx, "no catalog match, minting under synthetic id",
			logging.String("card_name", truth.CardName),
			logging.String("cm_card_id", id))
		return canonicalResolution{
			cmCardID:     id,
			canonicalSKU: id,
			setName:      truth.SetName,
			confidence:   0,
		}, nil
	}

	card := match.Card
	return canonicalResolution{
		cmCardID:     card.CMCardID,
		canonicalSKU: card.CMCardID + "-" + card.Lang,
		setName:      card.SetName,
		confidence:   match.Confidence,
	}, nil
}

// conditionBucket folds free-form condition text into a SKU-safe bucket.
func conditionBucket(condition string) string {
	condition = strings.ToUpper(strings.TrimSpace(condition))
	if condition == "" {
		return "NA"
	}
	return strings.ReplaceAll(condition, " ", "_")
}
