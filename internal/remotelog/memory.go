package remotelog

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/starford/notesq/internal/apperr"
)

// Memory is an in-process Backend whose version token is a counter. Like
// hosted stores, it deletes a file when it is replaced with empty content.
type Memory struct {
	mu      sync.Mutex
	files   map[string]File
	counter int64

	// FetchErr and ReplaceErr, when set, are returned by the next calls.
	FetchErr   error
	ReplaceErr error
	// BeforeReplace runs at the start of every Replace, outside the lock.
	// Tests use it to interleave a concurrent writer.
	BeforeReplace func(name string)

	replaces int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]File)}
}

// Fetch implements Backend.
func (m *Memory) Fetch(_ context.Context) (map[string]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	out := make(map[string]File, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out, nil
}

// Replace implements Backend.
func (m *Memory) Replace(_ context.Context, name, content, expectedVersion string) error {
	if hook := m.BeforeReplace; hook != nil {
		hook(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReplaceErr != nil {
		return m.ReplaceErr
	}
	cur, ok := m.files[name]
	if !versionMatches(cur, ok, expectedVersion) {
		return fmt.Errorf("remotelog: replace %s: %w", name, apperr.ErrVersionMismatch)
	}
	m.replaces++
	if content == "" {
		delete(m.files, name)
		return nil
	}
	m.put(name, content)
	return nil
}

// Put writes content directly, as an external producer would, and returns
// the new version.
func (m *Memory) Put(name, content string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(name, content)
}

// Content returns the stored content of name.
func (m *Memory) Content(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[name]
	return f.Content, ok
}

// Replaces returns how many replaces were applied.
func (m *Memory) Replaces() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaces
}

func (m *Memory) put(name, content string) string {
	m.counter++
	v := strconv.FormatInt(m.counter, 10)
	m.files[name] = File{Content: content, Version: v}
	return v
}
