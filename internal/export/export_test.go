package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/notesq/internal/notes"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func stored(id string, modifiedAgo time.Duration) notes.Stored {
	return notes.Stored{
		ID:         id,
		Title:      "[WORK] " + id,
		Body:       "<div>Café " + id + "</div>",
		Folder:     "MCP Inbox",
		Account:    "iCloud",
		CreatedAt:  base.Add(-48 * time.Hour),
		ModifiedAt: base.Add(-modifiedAgo),
	}
}

func TestSelect(t *testing.T) {
	all := []notes.Stored{
		stored("old", 40*24*time.Hour),
		stored("mid", 2*time.Hour),
		stored("new", time.Minute),
		stored("day", 24*time.Hour),
	}

	got := Select(all, 30*24*time.Hour, 2, base)
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Fatalf("Select = %+v", ids(got))
	}

	got = Select(all, 0, 0, base)
	if len(got) != 4 || got[3].ID != "old" {
		t.Fatalf("unlimited Select = %v", ids(got))
	}
}

func ids(list []notes.Stored) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID
	}
	return out
}

func TestWriteJSONL(t *testing.T) {
	list := []notes.Stored{stored("a", time.Hour), {ID: "b", Title: "plain", Folder: "F", Account: "On My Mac"}}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, list, false); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if strings.Contains(lines[0], `"body"`) {
		t.Errorf("body exported without includeBody: %s", lines[0])
	}
	var r Record
	if err := json.Unmarshal([]byte(lines[0]), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.ID != "a" || len(r.Tags) != 1 || r.Tags[0] != "WORK" || r.ModifiedAt != "2024-03-10T11:00:00.000000Z" {
		t.Errorf("record = %+v", r)
	}
	if strings.Contains(lines[1], `"tags"`) {
		t.Errorf("untagged title exported tags: %s", lines[1])
	}

	buf.Reset()
	if err := WriteJSONL(&buf, list[:1], true); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	if !strings.Contains(buf.String(), `"body":"<div>Café a</div>"`) {
		t.Errorf("body not exported verbatim: %s", buf.String())
	}
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "export.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	db.now = func() time.Time { return base }
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBWrite(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	if err := db.Write(ctx, []notes.Stored{stored("a", time.Hour), stored("b", time.Hour)}, true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var title, tags, exportedAt string
	var body sql.NullString
	err := db.conn.QueryRow(`SELECT title, body, tags, exported_at FROM notes_export WHERE id = 'a'`).
		Scan(&title, &body, &tags, &exportedAt)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if title != "[WORK] a" || !body.Valid || body.String != "<div>Café a</div>" {
		t.Errorf("row = %q %+v", title, body)
	}
	if tags != `["WORK"]` || exportedAt != "2024-03-10T12:00:00.000000Z" {
		t.Errorf("tags = %q exported_at = %q", tags, exportedAt)
	}
}

func TestDBWriteUpsertsAndDropsBody(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	n := stored("a", time.Hour)
	if err := db.Write(ctx, []notes.Stored{n}, true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	n.Title = "renamed"
	if err := db.Write(ctx, []notes.Stored{n}, false); err != nil {
		t.Fatalf("Write again: %v", err)
	}

	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM notes_export`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
	var title string
	var body, tags sql.NullString
	if err := db.conn.QueryRow(`SELECT title, body, tags FROM notes_export WHERE id = 'a'`).Scan(&title, &body, &tags); err != nil {
		t.Fatalf("query: %v", err)
	}
	if title != "renamed" || body.Valid || tags.Valid {
		t.Errorf("row = %q body=%+v tags=%+v", title, body, tags)
	}
}
