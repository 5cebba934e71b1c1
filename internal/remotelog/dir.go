package remotelog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/starford/notesq/internal/apperr"
	"github.com/starford/notesq/internal/checksum"
)

// Dir is a Backend over a local directory, for single-host deployments
// and shared volumes. Versions are content checksums.
type Dir struct {
	root string // absolute
	mu   sync.Mutex
}

// NewDir creates a backend rooted at the given directory, which must
// already exist.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("remotelog: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("remotelog: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("remotelog: root is not a directory: %s", abs)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute directory path.
func (d *Dir) Root() string { return d.root }

// safePath resolves a file name against the root. Names are flat: any
// separator or traversal is rejected.
func (d *Dir) safePath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("remotelog: invalid file name %q", name)
	}
	if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("remotelog: file name escapes root: %s", name)
	}
	abs := filepath.Join(d.root, name)
	if filepath.Dir(abs) != d.root {
		return "", fmt.Errorf("remotelog: file name escapes root: %s", name)
	}
	return abs, nil
}

// Fetch implements Backend. Hidden files are skipped.
func (d *Dir) Fetch(_ context.Context) (map[string]File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("remotelog: list %s: %w", d.root, err)
	}
	out := make(map[string]File, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.root, e.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("remotelog: read %s: %w", e.Name(), err)
		}
		out[e.Name()] = File{Content: string(data), Version: checksum.Sum(data)}
	}
	return out, nil
}

// Replace implements Backend. The version check and write happen under
// one lock, so writers in this process cannot interleave.
func (d *Dir) Replace(_ context.Context, name, content, expectedVersion string) error {
	abs, err := d.safePath(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if expectedVersion != "" {
		var cur File
		data, err := os.ReadFile(abs)
		exists := err == nil
		switch {
		case exists:
			cur = File{Content: string(data), Version: checksum.Sum(data)}
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("remotelog: read %s: %w", name, err)
		}
		if !versionMatches(cur, exists, expectedVersion) {
			return fmt.Errorf("remotelog: replace %s: %w", name, apperr.ErrVersionMismatch)
		}
	}
	return writeAtomic(abs, []byte(content))
}

// writeAtomic writes content via tmp file, fsync and rename.
func writeAtomic(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, ".notesq-tmp-*")
	if err != nil {
		return fmt.Errorf("remotelog: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("remotelog: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("remotelog: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("remotelog: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("remotelog: rename: %w", err)
	}
	success = true
	return nil
}
