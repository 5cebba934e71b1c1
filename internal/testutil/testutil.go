// Package testutil provides shared test helpers for ledgers, loggers and
// signed queue lines.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/ledger"
)

// TestLedger opens a ledger in a temporary directory that is cleaned up
// with the test.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SignedLine builds a notes.create job signed with secret and returns it
// as a queue line without the trailing newline.
func SignedLine(t *testing.T, id string, created time.Time, args job.Args, secret string) string {
	t.Helper()
	j := &job.Job{
		ID:        id,
		CreatedAt: job.FormatTime(created),
		Tool:      job.ToolNotesCreate,
		Args:      args,
	}
	sig, err := job.Sign(j, secret)
	if err != nil {
		t.Fatal(err)
	}
	j.Sig = sig
	line, err := job.Encode(j)
	if err != nil {
		t.Fatal(err)
	}
	return string(line)
}
