// Package ledger counts job submissions per product and input file so callers
// can notice accidental resubmission of the same payload.
package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// Fingerprinter accumulates the fingerprint of the bytes written to it
type Fingerprinter struct {
	h hash.Hash
}

// NewFingerprinter returns an empty SHA-256 fingerprinter
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{h: sha256.New()}
}

func (f *Fingerprinter) Write(p []byte) (int, error) { return f.h.Write(p) }

// Sum returns the hex digest of everything written so far
func (f *Fingerprinter) Sum() string { return hex.EncodeToString(f.h.Sum(nil)) }

// Fingerprint returns the hex SHA-256 digest of r
func Fingerprint(r io.Reader) (string, error) {
	f := NewFingerprinter()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return f.Sum(), nil
}

// Open connects to the Postgres database at databaseURL
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	return db, nil
}

// Tracker records submissions in Postgres
type Tracker struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTracker creates a new submission tracker
func NewTracker(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tracker := &Tracker{db: db, logger: logger}

	// Create table if not exists
	if err := tracker.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger table: %w", err)
	}

	return tracker, nil
}

// ensureTable creates the ondemand_submissions table if it doesn't exist
func (t *Tracker) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ondemand_submissions (
			product_id TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			file_name TEXT,
			last_job_id TEXT,
			last_mode TEXT,
			first_seen_at TIMESTAMPTZ DEFAULT NOW(),
			last_seen_at TIMESTAMPTZ DEFAULT NOW(),
			seen_count INTEGER DEFAULT 1,
			PRIMARY KEY (product_id, fingerprint)
		)
	`

	_, err := t.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create ondemand_submissions table: %w", err)
	}

	t.logger.Debug("ledger.table_ready")
	return nil
}

// Record records a submission and returns how often the same product and
// file have been submitted, including this one.
func (t *Tracker) Record(ctx context.Context, s ondemand.Submission) (int, error) {
	// Upsert: increment seen_count if exists, insert if not
	query := `
		INSERT INTO ondemand_submissions (product_id, fingerprint, file_name, last_job_id, last_mode, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		ON CONFLICT (product_id, fingerprint) DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = ondemand_submissions.seen_count + 1,
		    file_name = EXCLUDED.file_name,
		    last_job_id = EXCLUDED.last_job_id,
		    last_mode = EXCLUDED.last_mode
		RETURNING seen_count
	`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, s.ProductID, s.Fingerprint, s.FileName, s.JobID, s.Mode).Scan(&seenCount)
	if err != nil {
		return 0, fmt.Errorf("failed to record submission: %w", err)
	}

	if seenCount > 1 {
		t.logger.Warn("ledger.duplicate_submission",
			"product_id", s.ProductID,
			"fingerprint", s.Fingerprint,
			"seen_count", seenCount,
		)
	}
	return seenCount, nil
}

// SeenCount retrieves the submission count for a product and fingerprint
func (t *Tracker) SeenCount(ctx context.Context, productID, fingerprint string) (int, error) {
	query := `SELECT seen_count FROM ondemand_submissions WHERE product_id = $1 AND fingerprint = $2`

	var seenCount int
	err := t.db.QueryRowContext(ctx, query, productID, fingerprint).Scan(&seenCount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get seen count: %w", err)
	}

	return seenCount, nil
}
