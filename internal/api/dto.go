package api

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/producer"
)

var accountRe = regexp.MustCompile(`^(iCloud|On My Mac)$`)

// CreateNoteRequest is the request body for POST /notes.
type CreateNoteRequest struct {
	Title   string   `json:"title" example:"Groceries" validate:"required"`
	Body    string   `json:"body" example:"Milk\nEggs" validate:"required"`
	Folder  string   `json:"folder,omitempty" example:"MCP Inbox"`
	Account string   `json:"account,omitempty" example:"iCloud"`
	Confirm bool     `json:"confirm,omitempty"`
	Tags    []string `json:"tags,omitempty" example:"shopping"`
}

// Validate checks the request shape. Deployment policy is applied
// separately.
func (r CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.RuneLength(1, 200), validation.By(noNUL)),
		validation.Field(&r.Body, validation.Required, validation.RuneLength(1, 50000), validation.By(noNUL)),
		validation.Field(&r.Folder, validation.RuneLength(0, 200)),
		validation.Field(&r.Account, validation.Match(accountRe)),
		validation.Field(&r.Tags, validation.Length(0, notes.MaxTags)),
	)
}

func (r CreateNoteRequest) noteRequest() producer.NoteRequest {
	return producer.NoteRequest{
		Title:   r.Title,
		Body:    r.Body,
		Folder:  r.Folder,
		Account: r.Account,
		Confirm: r.Confirm,
		Tags:    r.Tags,
	}
}

func noNUL(v any) error {
	if s, _ := v.(string); strings.ContainsRune(s, 0) {
		return validation.NewError("validation_nul", "must not contain null bytes")
	}
	return nil
}

// QueuedResponse is returned when a job has been enqueued.
type QueuedResponse struct {
	Status  string `json:"status" example:"queued" validate:"required"`
	JobID   string `json:"job_id" example:"4f1c6e1a-8d5e-4d59-9a51-0f1f5e7f2a10" validate:"required"`
	Message string `json:"message" validate:"required"`
	Folder  string `json:"folder" example:"MCP Inbox" validate:"required"`
	Account string `json:"account" example:"iCloud" validate:"required"`
}

// BridgeCreateRequest is the request body for the bridge's POST /create.
type BridgeCreateRequest struct {
	Title   string   `json:"title" validate:"required"`
	Body    string   `json:"body" validate:"required"`
	Folder  string   `json:"folder,omitempty"`
	Account string   `json:"account,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Validate checks the request shape.
func (r BridgeCreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.By(noNUL)),
		validation.Field(&r.Body, validation.By(noNUL)),
		validation.Field(&r.Account, validation.Match(accountRe)),
	)
}

func (r BridgeCreateRequest) note() notes.Note {
	return notes.Note{
		Title:   r.Title,
		Body:    r.Body,
		Folder:  r.Folder,
		Account: r.Account,
		Tags:    r.Tags,
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status" example:"ok"`
	Service string `json:"service" example:"notesq-ingress"`
}
