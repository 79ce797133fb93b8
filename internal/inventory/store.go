// Package inventory holds minted products, physical items, and the scan
// linkage rows that make photo resubmission idempotent.
package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Product is one sellable print identity. A new row is minted per physical
// card; rows are never pooled or updated for deduplication.
type Product struct {
	ProductSKU          string
	CanonicalSKU        string
	CMCardID            string
	CardName            string
	SetName             string
	ConditionBucket     string
	CanonicalConfidence float64
	NeedsReconciliation bool
	CreatedAt           time.Time
}

// Item is one physical card in inventory.
type Item struct {
	ItemUID           string
	ProductSKU        string
	Quantity          int
	AcquisitionSource string
	CreatedAt         time.Time
}

// Scan links an accepted job to its minted or attached inventory.
type Scan struct {
	ScanID      string
	JobID       string
	Fingerprint string
	ItemUID     string
	ProductSKU  string
	ListingSKU  string
	CMCardID    string
	CreatedAt   time.Time
}

// Store persists inventory rows over a shared database handle.
type Store struct {
	db *sql.DB
}

// NewStore prepares the inventory tables on db and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure inventory schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			product_sku TEXT PRIMARY KEY,
			canonical_sku TEXT NOT NULL,
			cm_card_id TEXT NOT NULL,
			card_name TEXT NOT NULL,
			set_name TEXT NOT NULL DEFAULT '',
			condition_bucket TEXT NOT NULL DEFAULT 'NA',
			canonical_confidence REAL NOT NULL DEFAULT 0,
			needs_reconciliation INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_products_cm_card ON products(cm_card_id)`,
		`CREATE TABLE IF NOT EXISTS items (
			item_uid TEXT PRIMARY KEY,
			product_sku TEXT NOT NULL REFERENCES products(product_sku),
			quantity INTEGER NOT NULL DEFAULT 1,
			acquisition_source TEXT NOT NULL DEFAULT 'scan',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scans (
			scan_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			fingerprint TEXT NOT NULL,
			item_uid TEXT NOT NULL,
			product_sku TEXT NOT NULL,
			listing_sku TEXT NOT NULL,
			cm_card_id TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_fingerprint ON scans(fingerprint)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// FindScanByFingerprint returns the earliest scan with the given fingerprint,
// or (nil, nil) when none exists.
func (s *Store) FindScanByFingerprint(ctx context.Context, fingerprint string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scan_id, job_id, fingerprint, item_uid, product_sku, listing_sku, cm_card_id, created_at
		FROM scans WHERE fingerprint = ? ORDER BY created_at ASC, scan_id ASC LIMIT 1`, fingerprint)
	scan, err := scanScan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find scan by fingerprint: %w", err)
	}
	return scan, nil
}

// GetScanByJob returns the scan row for a job, or (nil, nil) when absent.
func (s *Store) GetScanByJob(ctx context.Context, jobID string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scan_id, job_id, fingerprint, item_uid, product_sku, listing_sku, cm_card_id, created_at
		FROM scans WHERE job_id = ?`, jobID)
	scan, err := scanScan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scan for job %s: %w", jobID, err)
	}
	return scan, nil
}

// GetItem returns an item by uid, or (nil, nil) when absent.
func (s *Store) GetItem(ctx context.Context, itemUID string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_uid, product_sku, quantity, acquisition_source, created_at
		FROM items WHERE item_uid = ?`, itemUID)
	var item Item
	var created string
	err := row.Scan(&item.ItemUID, &item.ProductSKU, &item.Quantity, &item.AcquisitionSource, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", itemUID, err)
	}
	item.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &item, nil
}

// GetProduct returns a product by sku, or (nil, nil) when absent.
func (s *Store) GetProduct(ctx context.Context, productSKU string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT product_sku, canonical_sku, cm_card_id, card_name, set_name, condition_bucket, canonical_confidence, needs_reconciliation, created_at
		FROM products WHERE product_sku = ?`, productSKU)
	var p Product
	var created string
	err := row.Scan(&p.ProductSKU, &p.CanonicalSKU, &p.CMCardID, &p.CardName, &p.SetName,
		&p.ConditionBucket, &p.CanonicalConfidence, &p.NeedsReconciliation, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productSKU, err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &p, nil
}

// Counts returns product, item, and scan totals.
func (s *Store) Counts(ctx context.Context) (products, items, scans int, err error) {
	for _, q := range []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM products`, &products},
		{`SELECT COUNT(*) FROM items`, &items},
		{`SELECT COUNT(*) FROM scans`, &scans},
	} {
		if err = s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return 0, 0, 0, fmt.Errorf("inventory counts: %w", err)
		}
	}
	return products, items, scans, nil
}

// insertMint writes product, item, and scan rows in one transaction.
func (s *Store) insertMint(ctx context.Context, product Product, item Item, scan Scan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mint: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO products (product_sku, canonical_sku, cm_card_id, card_name, set_name, condition_bucket, canonical_confidence, needs_reconciliation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ProductSKU, product.CanonicalSKU, product.CMCardID, product.CardName, product.SetName,
		product.ConditionBucket, product.CanonicalConfidence, product.NeedsReconciliation, now); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items (item_uid, product_sku, quantity, acquisition_source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		item.ItemUID, item.ProductSKU, item.Quantity, item.AcquisitionSource, now); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	if err := insertScanTx(ctx, tx, scan, now); err != nil {
		return err
	}
	return tx.Commit()
}

// insertAttach records a resubmission scan pointing at existing inventory.
func (s *Store) insertAttach(ctx context.Context, scan Scan) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attach: %w", err)
	}
	defer tx.Rollback()
	if err := insertScanTx(ctx, tx, scan, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

func insertScanTx(ctx context.Context, tx *sql.Tx, scan Scan, now string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scans (scan_id, job_id, fingerprint, item_uid, product_sku, listing_sku, cm_card_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ScanID, scan.JobID, scan.Fingerprint, scan.ItemUID, scan.ProductSKU, scan.ListingSKU, scan.CMCardID, now); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

func scanScan(row *sql.Row) (*Scan, error) {
	var scan Scan
	var created string
	err := row.Scan(&scan.ScanID, &scan.JobID, &scan.Fingerprint, &scan.ItemUID,
		&scan.ProductSKU, &scan.ListingSKU, &scan.CMCardID, &created)
	if err != nil {
		return nil, err
	}
	scan.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &scan, nil
}
