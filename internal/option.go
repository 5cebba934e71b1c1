package internal

import (
	"io"

	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/remotelog"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	backend remotelog.Backend
	sink    notes.Sink
	reader  notes.Reader
	logOut  io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithBackend replaces the configured queue backend.
func WithBackend(b remotelog.Backend) Option {
	return func(a *application) {
		a.backend = b
	}
}

// WithSink replaces the configured note sink.
func WithSink(s notes.Sink) Option {
	return func(a *application) {
		a.sink = s
	}
}

// WithNoteReader replaces the Apple Notes reader used by exports.
func WithNoteReader(r notes.Reader) Option {
	return func(a *application) {
		a.reader = r
	}
}

// WithLogOutput sends structured logs to w instead of stdout.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}
