// Package audit appends one JSON record per note request to an audit
// file. Records carry lengths only, never note content.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// Record describes one attempted action.
type Record struct {
	Action     string
	JobID      string
	Title      string // only its length is written
	Body       string // only its length is written
	Account    string
	Folder     string
	Outcome    string
	Error      string
	RemoteAddr string
}

// Log is an append-only audit log.
type Log struct {
	logger *slog.Logger
	closer io.Closer
}

// Open appends to the file at path, creating it and its directory. An
// empty path disables auditing.
func Open(path string) (*Log, error) {
	if path == "" {
		return New(io.Discard), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	l := New(f)
	l.closer = f
	return l, nil
}

// New writes records to w.
func New(w io.Writer) *Log {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				a.Key = "timestamp"
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000000Z"))
			case slog.LevelKey, slog.MessageKey:
				return slog.Attr{}
			}
			return a
		},
	})
	return &Log{logger: slog.New(h)}
}

// Record appends r.
func (l *Log) Record(ctx context.Context, r Record) {
	attrs := []slog.Attr{
		slog.String("action", r.Action),
		slog.Int("title_length", utf8.RuneCountInString(r.Title)),
		slog.Int("body_length", utf8.RuneCountInString(r.Body)),
		slog.String("account", r.Account),
		slog.String("folder", r.Folder),
		slog.String("outcome", r.Outcome),
	}
	if r.JobID != "" {
		attrs = append(attrs, slog.String("job_id", r.JobID))
	}
	if r.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", r.RemoteAddr))
	}
	if r.Error != "" {
		attrs = append(attrs, slog.String("error", r.Error))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "", attrs...)
}

// Close closes the underlying file, if any.
func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
