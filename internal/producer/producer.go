// Package producer builds signed jobs and appends them to the remote queue.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/notesq/internal/apperr"
	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/remotelog"
	"github.com/starford/notesq/internal/telemetry"
)

// maxAttempts bounds how often Enqueue retries a lost append race.
const maxAttempts = 3

// NoteRequest is a caller's request to create a note.
type NoteRequest struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Folder  string   `json:"folder,omitempty"`
	Account string   `json:"account,omitempty"`
	Confirm bool     `json:"confirm,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Args converts the request into job arguments, normalizing the body and
// tags the same way for every front-end.
func (r NoteRequest) Args() job.Args {
	return job.Args{
		Title:   r.Title,
		Body:    notes.NormalizeBody(r.Body),
		Folder:  r.Folder,
		Account: r.Account,
		Confirm: r.Confirm,
		Tags:    notes.CleanTags(r.Tags),
	}
}

// Producer signs requests and appends them to the queue file.
type Producer struct {
	log       *remotelog.Log
	queueFile string
	secret    string
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// New creates a producer. secret must be non-empty.
func New(log *remotelog.Log, queueFile, secret string, logger *slog.Logger) *Producer {
	return &Producer{
		log:       log,
		queueFile: queueFile,
		secret:    secret,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Build returns a signed job for r created at now.
func (p *Producer) Build(r NoteRequest, now time.Time) (*job.Job, error) {
	j := &job.Job{
		ID:        p.newID(),
		CreatedAt: job.FormatTime(now),
		Tool:      job.ToolNotesCreate,
		Args:      r.Args(),
	}
	sig, err := job.Sign(j, p.secret)
	if err != nil {
		return nil, fmt.Errorf("producer: sign: %w", err)
	}
	j.Sig = sig
	return j, nil
}

// Line builds and encodes a job without enqueueing it.
func (p *Producer) Line(r NoteRequest) (*job.Job, string, error) {
	j, err := p.Build(r, p.now())
	if err != nil {
		return nil, "", err
	}
	data, err := job.Encode(j)
	if err != nil {
		return nil, "", err
	}
	return j, string(data), nil
}

// Enqueue appends a signed job for r to the queue and returns it.
func (p *Producer) Enqueue(ctx context.Context, r NoteRequest) (*job.Job, error) {
	j, line, err := p.Line(r)
	if err != nil {
		return nil, err
	}
	if err := p.Append(ctx, line); err != nil {
		return nil, err
	}
	p.logger.Info("producer: job enqueued",
		slog.String("job_id", j.ID),
		slog.Int("title_length", len([]rune(j.Args.Title))),
		slog.Int("body_length", len([]rune(j.Args.Body))))
	return j, nil
}

// Append adds an already encoded line to the queue, retrying when another
// writer changes the file between the read and the write.
func (p *Producer) Append(ctx context.Context, line string) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var files map[string]remotelog.File
		files, err = p.log.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("producer: fetch: %w", err)
		}
		expected := remotelog.VersionAbsent
		if f, ok := files[p.queueFile]; ok {
			expected = f.Version
		}

		err = p.log.AppendLines(ctx, p.queueFile, []string{line}, expected)
		if err == nil {
			telemetry.Enqueued.Inc()
			return nil
		}
		if !errors.Is(err, apperr.ErrVersionMismatch) {
			return fmt.Errorf("producer: append: %w", err)
		}
		telemetry.VersionConflicts.WithLabelValues(p.queueFile).Inc()
		p.logger.Warn("producer: queue changed concurrently, retrying", slog.Int("attempt", attempt))
	}
	return fmt.Errorf("producer: append after %d attempts: %w", maxAttempts, err)
}
