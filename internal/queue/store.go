package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"cardmint/internal/config"
)

// Store manages scan job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the shared database handle so the inventory and catalog stores
// can live in the same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Insert persists a new job row. Callers go through Queue.Enqueue, which
// assigns identity and zeroed counters.
func (s *Store) Insert(ctx context.Context, job *ScanJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	extracted, candidates, timings, truth, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO scan_jobs (
            id, capture_uid, session_id, status,
            image_path, raw_image_path, back_image_path, corrected_image_path, processed_image_path,
            master_image_path, master_cdn_url, scan_orientation,
            extracted_json, candidates_json, inference_path, rerank_note,
            retry_count, ppt_failure_count, timings_json,
            processor_id, locked_at, error_code, error_message,
            item_uid, product_sku, listing_sku, cm_card_id, truth_core_json,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		nullableString(job.CaptureUID),
		nullableString(job.SessionID),
		job.Status,
		nullableString(job.ImagePath),
		nullableString(job.RawImagePath),
		nullableString(job.BackImagePath),
		nullableString(job.CorrectedImagePath),
		nullableString(job.ProcessedImagePath),
		nullableString(job.MasterImagePath),
		nullableString(job.MasterCDNURL),
		string(job.ScanOrientation),
		extracted,
		candidates,
		nullableString(job.InferencePath),
		nullableString(job.RerankNote),
		job.RetryCount,
		job.PPTFailureCount,
		timings,
		nullableString(job.ProcessorID),
		nullableTime(job.LockedAt),
		nullableString(job.ErrorCode),
		nullableString(job.ErrorMessage),
		nullableString(job.ItemUID),
		nullableString(job.ProductSKU),
		nullableString(job.ListingSKU),
		nullableString(job.CMCardID),
		truth,
		job.CreatedAt.Format(time.RFC3339Nano),
		job.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by identifier. A missing row returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*ScanJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scan_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindBySession returns jobs for a capture session, oldest first.
func (s *Store) FindBySession(ctx context.Context, sessionID string) ([]*ScanJob, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM scan_jobs WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query by session: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// FindByCaptureUID returns the first job with the given capture correlation id.
func (s *Store) FindByCaptureUID(ctx context.Context, captureUID string) (*ScanJob, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM scan_jobs WHERE capture_uid = ? ORDER BY created_at LIMIT 1`,
		captureUID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by capture uid: %w", err)
	}
	return job, nil
}

// Update persists all mutable fields of an existing job.
func (s *Store) Update(ctx context.Context, job *ScanJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	extracted, candidates, timings, truth, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE scan_jobs
         SET capture_uid = ?, session_id = ?, status = ?,
             image_path = ?, raw_image_path = ?, back_image_path = ?, corrected_image_path = ?, processed_image_path = ?,
             master_image_path = ?, master_cdn_url = ?, scan_orientation = ?,
             extracted_json = ?, candidates_json = ?, inference_path = ?, rerank_note = ?,
             retry_count = ?, ppt_failure_count = ?, timings_json = ?,
             processor_id = ?, locked_at = ?, error_code = ?, error_message = ?,
             item_uid = ?, product_sku = ?, listing_sku = ?, cm_card_id = ?, truth_core_json = ?,
             updated_at = ?
         WHERE id = ?`,
		nullableString(job.CaptureUID),
		nullableString(job.SessionID),
		job.Status,
		nullableString(job.ImagePath),
		nullableString(job.RawImagePath),
		nullableString(job.BackImagePath),
		nullableString(job.CorrectedImagePath),
		nullableString(job.ProcessedImagePath),
		nullableString(job.MasterImagePath),
		nullableString(job.MasterCDNURL),
		string(job.ScanOrientation),
		extracted,
		candidates,
		nullableString(job.InferencePath),
		nullableString(job.RerankNote),
		job.RetryCount,
		job.PPTFailureCount,
		timings,
		nullableString(job.ProcessorID),
		nullableTime(job.LockedAt),
		nullableString(job.ErrorCode),
		nullableString(job.ErrorMessage),
		nullableString(job.ItemUID),
		nullableString(job.ProductSKU),
		nullableString(job.ListingSKU),
		nullableString(job.CMCardID),
		truth,
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ClaimNext atomically leases the oldest eligible job for processorID. A job
// is eligible when queued and either unleased or holding an expired lease.
// Returns (nil, nil) when nothing is claimable. Safe under concurrent
// callers: the conditional update guarantees at most one winner per job.
func (s *Store) ClaimNext(ctx context.Context, processorID string, leaseTimeout time.Duration) (*ScanJob, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-leaseTimeout).Format(time.RFC3339Nano)

	// A handful of attempts covers the race where another processor wins the
	// row between the select and the conditional update.
	for attempt := 0; attempt < 5; attempt++ {
		var id string
		var priorProcessor sql.NullString
		row := s.db.QueryRowContext(
			ctx,
			`SELECT id, processor_id FROM scan_jobs
             WHERE status = ? AND (locked_at IS NULL OR locked_at < ?)
             ORDER BY created_at LIMIT 1`,
			StatusQueued,
			cutoff,
		)
		if err := row.Scan(&id, &priorProcessor); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select claimable job: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE scan_jobs SET processor_id = ?, locked_at = ?, updated_at = ?
             WHERE id = ? AND status = ? AND (locked_at IS NULL OR locked_at < ?)`,
			processorID,
			now.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
			id,
			StatusQueued,
			cutoff,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 1 {
			job, err := s.GetByID(ctx, id)
			if err != nil {
				return nil, err
			}
			if priorProcessor.String != "" && priorProcessor.String != processorID {
				job.ReclaimedFrom = priorProcessor.String
			}
			return job, nil
		}
		// Lost the race; try the next eligible row.
	}
	return nil, nil
}

// ReleaseLease clears the lease without changing status, making the job
// claimable again.
func (s *Store) ReleaseLease(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE scan_jobs SET processor_id = NULL, locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Depth counts queued jobs, the signal feeding the shadow-lane gate.
func (s *Store) Depth(ctx context.Context) (int, error) {
	var depth int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM scan_jobs WHERE status = ?`, StatusQueued)
	if err := row.Scan(&depth); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM scan_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*ScanJob, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM scan_jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

const jobColumns = "id, capture_uid, session_id, status, image_path, raw_image_path, back_image_path, corrected_image_path, processed_image_path, master_image_path, master_cdn_url, scan_orientation, extracted_json, candidates_json, inference_path, rerank_note, retry_count, ppt_failure_count, timings_json, processor_id, locked_at, error_code, error_message, item_uid, product_sku, listing_sku, cm_card_id, truth_core_json, created_at, updated_at"

func collectJobs(rows *sql.Rows) ([]*ScanJob, error) {
	var jobs []*ScanJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func marshalJobJSON(job *ScanJob) (extracted, candidates, timings, truth any, err error) {
	if job.Extracted != nil {
		data, marshalErr := json.Marshal(job.Extracted)
		if marshalErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal extraction: %w", marshalErr)
		}
		extracted = string(data)
	}
	if len(job.TopCandidates) > 0 {
		data, marshalErr := json.Marshal(job.TopCandidates)
		if marshalErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal candidates: %w", marshalErr)
		}
		candidates = string(data)
	}
	if len(job.Timings) > 0 {
		data, marshalErr := json.Marshal(job.Timings)
		if marshalErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal timings: %w", marshalErr)
		}
		timings = string(data)
	}
	if job.TruthCore != nil {
		data, marshalErr := json.Marshal(job.TruthCore)
		if marshalErr != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal truth core: %w", marshalErr)
		}
		truth = string(data)
	}
	return extracted, candidates, timings, truth, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*ScanJob, error) {
	var (
		id              string
		captureUID      sql.NullString
		sessionID       sql.NullString
		statusStr       string
		imagePath       sql.NullString
		rawImagePath    sql.NullString
		backImagePath   sql.NullString
		correctedPath   sql.NullString
		processedPath   sql.NullString
		masterPath      sql.NullString
		masterCDN       sql.NullString
		orientation     sql.NullString
		extractedJSON   sql.NullString
		candidatesJSON  sql.NullString
		inferencePath   sql.NullString
		rerankNote      sql.NullString
		retryCount      int
		pptFailureCount int
		timingsJSON     sql.NullString
		processorID     sql.NullString
		lockedAtRaw     sql.NullString
		errorCode       sql.NullString
		errorMessage    sql.NullString
		itemUID         sql.NullString
		productSKU      sql.NullString
		listingSKU      sql.NullString
		cmCardID        sql.NullString
		truthJSON       sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&captureUID,
		&sessionID,
		&statusStr,
		&imagePath,
		&rawImagePath,
		&backImagePath,
		&correctedPath,
		&processedPath,
		&masterPath,
		&masterCDN,
		&orientation,
		&extractedJSON,
		&candidatesJSON,
		&inferencePath,
		&rerankNote,
		&retryCount,
		&pptFailureCount,
		&timingsJSON,
		&processorID,
		&lockedAtRaw,
		&errorCode,
		&errorMessage,
		&itemUID,
		&productSKU,
		&listingSKU,
		&cmCardID,
		&truthJSON,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &ScanJob{
		ID:                 id,
		CaptureUID:         captureUID.String,
		SessionID:          sessionID.String,
		Status:             Status(statusStr),
		ImagePath:          imagePath.String,
		RawImagePath:       rawImagePath.String,
		BackImagePath:      backImagePath.String,
		CorrectedImagePath: correctedPath.String,
		ProcessedImagePath: processedPath.String,
		MasterImagePath:    masterPath.String,
		MasterCDNURL:       masterCDN.String,
		ScanOrientation:    Orientation(orientation.String),
		InferencePath:      inferencePath.String,
		RerankNote:         rerankNote.String,
		RetryCount:         retryCount,
		PPTFailureCount:    pptFailureCount,
		ProcessorID:        processorID.String,
		ErrorCode:          errorCode.String,
		ErrorMessage:       errorMessage.String,
		ItemUID:            itemUID.String,
		ProductSKU:         productSKU.String,
		ListingSKU:         listingSKU.String,
		CMCardID:           cmCardID.String,
	}

	if extractedJSON.Valid && extractedJSON.String != "" {
		extraction := &Extraction{}
		if err := json.Unmarshal([]byte(extractedJSON.String), extraction); err != nil {
			return nil, fmt.Errorf("unmarshal extraction: %w", err)
		}
		job.Extracted = extraction
	}
	if candidatesJSON.Valid && candidatesJSON.String != "" {
		if err := json.Unmarshal([]byte(candidatesJSON.String), &job.TopCandidates); err != nil {
			return nil, fmt.Errorf("unmarshal candidates: %w", err)
		}
	}
	if timingsJSON.Valid && timingsJSON.String != "" {
		if err := json.Unmarshal([]byte(timingsJSON.String), &job.Timings); err != nil {
			return nil, fmt.Errorf("unmarshal timings: %w", err)
		}
	}
	if truthJSON.Valid && truthJSON.String != "" {
		truth := &TruthCore{}
		if err := json.Unmarshal([]byte(truthJSON.String), truth); err != nil {
			return nil, fmt.Errorf("unmarshal truth core: %w", err)
		}
		job.TruthCore = truth
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if lockedAtRaw.Valid {
		if lockedAt, err := parseTimeString(lockedAtRaw.String); err == nil {
			job.LockedAt = &lockedAt
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
