// Package notes creates notes on the trusted host. Sinks are the only
// place where a validated job touches the outside world.
package notes

import (
	"context"

	"github.com/starford/notesq/internal/job"
)

const (
	DefaultFolder  = "MCP Inbox"
	DefaultAccount = "iCloud"
)

// Note is a note-creation request as seen by a sink.
type Note struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Folder  string   `json:"folder,omitempty"`
	Account string   `json:"account,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Created reports where a sink placed a note.
type Created struct {
	Account   string `json:"account"`
	Folder    string `json:"folder"`
	Reference string `json:"reference"`
}

// Location returns the placement as a result location.
func (c Created) Location() *job.Location {
	return &job.Location{Account: c.Account, Folder: c.Folder}
}

// Sink creates a note.
type Sink interface {
	Create(ctx context.Context, n Note) (Created, error)
}

// FromArgs maps job arguments onto a note.
func FromArgs(a job.Args) Note {
	return Note{
		Title:   a.Title,
		Body:    a.Body,
		Folder:  a.Folder,
		Account: a.Account,
		Tags:    a.Tags,
	}
}

// withDefaults fills in the default folder and account.
func (n Note) withDefaults() Note {
	if n.Folder == "" {
		n.Folder = DefaultFolder
	}
	if n.Account == "" {
		n.Account = DefaultAccount
	}
	return n
}
