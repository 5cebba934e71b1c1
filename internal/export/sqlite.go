package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/notes"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes_export (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	folder      TEXT NOT NULL,
	account     TEXT NOT NULL,
	created_at  TEXT,
	modified_at TEXT,
	body        TEXT,
	tags        TEXT,
	exported_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_export_folder ON notes_export(folder);
CREATE INDEX IF NOT EXISTS idx_export_modified_at ON notes_export(modified_at);
`

// DB is a SQLite export target.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// OpenDB opens (or creates) the export database and applies the schema.
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("export: open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export: apply schema: %w", err)
	}
	return &DB{conn: conn, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Write upserts list in one transaction. Without includeBody the body
// column is cleared.
func (db *DB) Write(ctx context.Context, list []notes.Stored, includeBody bool) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("export: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notes_export (id, title, folder, account, created_at, modified_at, body, tags, exported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title       = excluded.title,
			folder      = excluded.folder,
			account     = excluded.account,
			created_at  = excluded.created_at,
			modified_at = excluded.modified_at,
			body        = excluded.body,
			tags        = excluded.tags,
			exported_at = excluded.exported_at
	`)
	if err != nil {
		return fmt.Errorf("export: prepare upsert: %w", err)
	}
	defer stmt.Close()

	exportedAt := job.FormatTime(db.now())
	for _, n := range list {
		r := NewRecord(n, includeBody)
		var tags sql.NullString
		if len(r.Tags) > 0 {
			data, _ := json.Marshal(r.Tags)
			tags = sql.NullString{String: string(data), Valid: true}
		}
		var body sql.NullString
		if r.Body != nil {
			body = sql.NullString{String: *r.Body, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Title, r.Folder, r.Account, r.CreatedAt, r.ModifiedAt, body, tags, exportedAt,
		); err != nil {
			return fmt.Errorf("export: upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}
