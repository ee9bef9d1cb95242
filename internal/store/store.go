// Package store persists confirmed inquiry submissions to Postgres.
//
// A submission is one successfully parsed workbook whose rows the user
// accepted. The submission header and its rows land in one transaction;
// rows go in via COPY so large workbooks do not degrade into per-row
// round trips.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campaign-tools/inquiry-ingest/internal/schema"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Store provides submission persistence on top of a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store. The pool is shared with the caller and not closed
// by this package.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS inquiry_submissions (
	id           UUID PRIMARY KEY,
	file_name    TEXT NOT NULL,
	file_size    BIGINT NOT NULL,
	row_count    INT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS inquiry_rows (
	id            BIGSERIAL PRIMARY KEY,
	submission_id UUID NOT NULL REFERENCES inquiry_submissions(id) ON DELETE CASCADE,
	campaign_key  TEXT NOT NULL,
	campaign_name TEXT NOT NULL,
	identifier    TEXT NOT NULL,
	user_name     TEXT NOT NULL,
	contact       TEXT NOT NULL,
	remarks       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_inquiry_rows_submission
	ON inquiry_rows (submission_id);
`

// EnsureSchema creates the submission tables if they do not exist.
// Called once at startup; safe to call repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Submission is the persisted header for one accepted workbook.
type Submission struct {
	ID          uuid.UUID `json:"id"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	RowCount    int       `json:"rowCount"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Submit persists one accepted parse: a submission header plus all of its
// rows, atomically. Returns the new submission ID.
func (s *Store) Submit(ctx context.Context, fileName string, fileSize int64, rows []schema.Row) (uuid.UUID, error) {
	id := uuid.New()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin submit: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO inquiry_submissions (id, file_name, file_size, row_count)
		 VALUES ($1, $2, $3, $4)`,
		id, fileName, fileSize, len(rows))
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert submission: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"inquiry_rows"},
		[]string{"submission_id", "campaign_key", "campaign_name", "identifier", "user_name", "contact", "remarks"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{id, r.CampaignKey, r.CampaignName, r.Identifier, r.UserName, r.Contact, r.Remarks}, nil
		}))
	if err != nil {
		return uuid.Nil, fmt.Errorf("copy rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit submit: %w", err)
	}
	return id, nil
}

// ListSubmissions returns the most recent submission headers, newest
// first, capped at limit (default 50 when limit <= 0).
func (s *Store) ListSubmissions(ctx context.Context, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, file_name, file_size, row_count, submitted_at
		 FROM inquiry_submissions
		 ORDER BY submitted_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.FileName, &sub.FileSize, &sub.RowCount, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

// SubmissionRows returns the stored rows of one submission in insert
// order. Missing submissions return an empty slice, not an error.
func (s *Store) SubmissionRows(ctx context.Context, id uuid.UUID) ([]schema.Row, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT campaign_key, campaign_name, identifier, user_name, contact, remarks
		 FROM inquiry_rows
		 WHERE submission_id = $1
		 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query submission rows: %w", err)
	}
	defer rows.Close()

	var out []schema.Row
	for rows.Next() {
		var r schema.Row
		if err := rows.Scan(&r.CampaignKey, &r.CampaignName, &r.Identifier, &r.UserName, &r.Contact, &r.Remarks); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission rows: %w", err)
	}
	return out, nil
}
