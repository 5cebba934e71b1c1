// Package export copies existing notes out of Apple Notes into local
// JSONL or SQLite files for read-only access.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/notes"
)

const (
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
)

// Record is the exported shape of one note. Body is omitted unless the
// export asks for it.
type Record struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Folder     string   `json:"folder"`
	Account    string   `json:"account"`
	CreatedAt  string   `json:"created_at"`
	ModifiedAt string   `json:"modified_at"`
	Body       *string  `json:"body,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// NewRecord converts a stored note.
func NewRecord(n notes.Stored, includeBody bool) Record {
	r := Record{
		ID:         n.ID,
		Title:      n.Title,
		Folder:     n.Folder,
		Account:    n.Account,
		CreatedAt:  job.FormatTime(n.CreatedAt),
		ModifiedAt: job.FormatTime(n.ModifiedAt),
		Tags:       notes.TitleTags(n.Title),
	}
	if includeBody {
		body := n.Body
		r.Body = &body
	}
	return r
}

// Select keeps notes modified within since of now, most recent first,
// capped at max. since <= 0 or max <= 0 disables that limit.
func Select(all []notes.Stored, since time.Duration, max int, now time.Time) []notes.Stored {
	out := make([]notes.Stored, 0, len(all))
	for _, n := range all {
		if since > 0 && n.ModifiedAt.Before(now.Add(-since)) {
			continue
		}
		out = append(out, n)
	}
	slices.SortStableFunc(out, func(a, b notes.Stored) int {
		return b.ModifiedAt.Compare(a.ModifiedAt)
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// WriteJSONL writes one record per line, non-ASCII text kept as is.
func WriteJSONL(w io.Writer, list []notes.Stored, includeBody bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, n := range list {
		if err := enc.Encode(NewRecord(n, includeBody)); err != nil {
			return fmt.Errorf("export: write %s: %w", n.ID, err)
		}
	}
	return nil
}
