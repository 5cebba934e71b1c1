// Package ledger is the worker's local record of terminally handled job
// ids. It makes processing idempotent across crashes and failed queue
// compactions.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/notesq/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_jobs (
	job_id       TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	processed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_jobs(processed_at);
`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Entry is one ledger row.
type Entry struct {
	JobID       string
	Status      string
	ProcessedAt time.Time
}

// DB is the SQLite-backed ledger.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (or creates) the ledger database and applies the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Has reports whether id has been recorded.
func (db *DB) Has(ctx context.Context, id string) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM processed_jobs WHERE job_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: lookup: %w", err)
	}
	return true, nil
}

// Record stores id with its final status. Recording an id again
// overwrites the previous row.
func (db *DB) Record(ctx context.Context, id, status string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO processed_jobs (job_id, status, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status       = excluded.status,
			processed_at = excluded.processed_at
	`, id, status, db.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("ledger: record: %w", err)
	}
	return nil
}

// Get returns the entry for id, or apperr.ErrNotFound.
func (db *DB) Get(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	var ts string
	err := db.conn.QueryRowContext(ctx,
		`SELECT job_id, status, processed_at FROM processed_jobs WHERE job_id = ?`, id,
	).Scan(&e.JobID, &e.Status, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get: %w", err)
	}
	e.ProcessedAt, _ = time.Parse(timeLayout, ts)
	return &e, nil
}

// Count returns the number of recorded ids.
func (db *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM processed_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}
	return n, nil
}

// Prune deletes the oldest rows so that at most maxRows remain and
// returns how many were removed. maxRows <= 0 disables pruning.
func (db *DB) Prune(ctx context.Context, maxRows int) (int64, error) {
	if maxRows <= 0 {
		return 0, nil
	}
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM processed_jobs
		WHERE rowid NOT IN (
			SELECT rowid FROM processed_jobs
			ORDER BY processed_at DESC, rowid DESC
			LIMIT ?
		)
	`, maxRows)
	if err != nil {
		return 0, fmt.Errorf("ledger: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
