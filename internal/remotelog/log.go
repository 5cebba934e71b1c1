// Package remotelog reads and rewrites the shared queue and results files.
//
// Backends only offer whole-file replace. Log layers the queue semantics on
// top: optimistic concurrency through version tokens, read-modify-write
// appends, and the rule that a file is never written with an empty body
// (hosted stores delete empty files).
package remotelog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/starford/notesq/internal/apperr"
)

// Sentinel is written instead of an empty body.
const Sentinel = "# notesq: queue empty\n"

// VersionAbsent as an expected version means the file must not exist yet.
const VersionAbsent = "absent"

// File is one remote file and the version token it was read at.
type File struct {
	Content string
	Version string
}

// Backend is a hosted store of named text files.
type Backend interface {
	// Fetch returns every file in the store.
	Fetch(ctx context.Context) (map[string]File, error)
	// Replace overwrites name with content. When expectedVersion is not
	// empty and no longer matches, it returns apperr.ErrVersionMismatch
	// and applies nothing. VersionAbsent matches only a missing file.
	Replace(ctx context.Context, name, content, expectedVersion string) error
}

// RateLimitError reports that the store throttled the request. Reset is
// the zero time when the store gave no hint.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return "remotelog: rate limited"
	}
	return fmt.Sprintf("remotelog: rate limited until %s", e.Reset.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return apperr.ErrRateLimited }

// Log is the queue-aware client used by producers and the worker.
type Log struct {
	backend Backend
}

// New wraps a backend.
func New(b Backend) *Log {
	return &Log{backend: b}
}

// Fetch returns the current state of all files.
func (l *Log) Fetch(ctx context.Context) (map[string]File, error) {
	return l.backend.Fetch(ctx)
}

// Replace overwrites a file, substituting Sentinel for an empty body.
func (l *Log) Replace(ctx context.Context, name, content, expectedVersion string) error {
	if strings.TrimSpace(content) == "" {
		content = Sentinel
	}
	return l.backend.Replace(ctx, name, content, expectedVersion)
}

// AppendLines appends lines to name. The append is a fetch followed by a
// conditional replace; it fails with apperr.ErrVersionMismatch when the
// file is not at expectedVersion or changes before the replace lands.
func (l *Log) AppendLines(ctx context.Context, name string, lines []string, expectedVersion string) error {
	if len(lines) == 0 {
		return nil
	}
	files, err := l.backend.Fetch(ctx)
	if err != nil {
		return err
	}
	cur, exists := files[name]
	if !versionMatches(cur, exists, expectedVersion) {
		return fmt.Errorf("remotelog: append %s: %w", name, apperr.ErrVersionMismatch)
	}

	content := cur.Content
	if len(Lines(content)) == 0 {
		// Only comments or the sentinel; start fresh.
		content = ""
	}
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += strings.Join(lines, "\n") + "\n"

	expected := cur.Version
	if !exists {
		expected = VersionAbsent
	}
	return l.Replace(ctx, name, content, expected)
}

// Lines splits file content into entries, dropping blank lines and
// comment lines starting with '#'.
func Lines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// versionMatches reports whether a file in state (cur, exists) satisfies
// expected. Backends that compare versions locally share it.
func versionMatches(cur File, exists bool, expected string) bool {
	switch expected {
	case "":
		return true
	case VersionAbsent:
		return !exists
	default:
		return exists && cur.Version == expected
	}
}
