package remotelog

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/starford/notesq/internal/apperr"
)

func TestLines(t *testing.T) {
	content := "# notesq: queue empty\n\n{\"a\":1}\r\n  \n# comment\n{\"b\":2}"
	got := Lines(content)
	want := []string{`{"a":1}`, `{"b":2}`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lines = %q, want %q", got, want)
	}
	if got := Lines(Sentinel); len(got) != 0 {
		t.Errorf("Lines(Sentinel) = %q, want none", got)
	}
}

func TestReplaceWritesSentinelForEmptyBody(t *testing.T) {
	mem := NewMemory()
	v := mem.Put("queue.jsonl", "{\"job_id\":\"a\"}\n")
	l := New(mem)

	if err := l.Replace(context.Background(), "queue.jsonl", "  \n", v); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, ok := mem.Content("queue.jsonl")
	if !ok {
		t.Fatal("queue file deleted, want sentinel")
	}
	if got != Sentinel {
		t.Errorf("content = %q, want sentinel", got)
	}
}

func TestReplaceVersionMismatch(t *testing.T) {
	mem := NewMemory()
	v := mem.Put("queue.jsonl", "one\n")
	mem.Put("queue.jsonl", "two\n")

	err := New(mem).Replace(context.Background(), "queue.jsonl", "three\n", v)
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if got, _ := mem.Content("queue.jsonl"); got != "two\n" {
		t.Errorf("content = %q, want unchanged", got)
	}
}

func TestAppendLines(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	l := New(mem)

	// Missing file is created.
	if err := l.AppendLines(ctx, "results.jsonl", []string{"a"}, ""); err != nil {
		t.Fatalf("AppendLines (create): %v", err)
	}
	if got, _ := mem.Content("results.jsonl"); got != "a\n" {
		t.Fatalf("content = %q", got)
	}

	// Missing trailing newline is repaired before appending.
	v := mem.Put("results.jsonl", "a")
	if err := l.AppendLines(ctx, "results.jsonl", []string{"b", "c"}, v); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}
	got, _ := mem.Content("results.jsonl")
	if got != "a\nb\nc\n" {
		t.Errorf("content = %q", got)
	}
}

func TestAppendLinesReplacesSentinel(t *testing.T) {
	mem := NewMemory()
	v := mem.Put("queue.jsonl", Sentinel)
	if err := New(mem).AppendLines(context.Background(), "queue.jsonl", []string{"x"}, v); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}
	if got, _ := mem.Content("queue.jsonl"); got != "x\n" {
		t.Errorf("content = %q, want %q", got, "x\n")
	}
}

func TestAppendLinesStaleVersion(t *testing.T) {
	mem := NewMemory()
	v := mem.Put("results.jsonl", "a\n")
	mem.Put("results.jsonl", "a\nb\n")

	err := New(mem).AppendLines(context.Background(), "results.jsonl", []string{"c"}, v)
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if got, _ := mem.Content("results.jsonl"); got != "a\nb\n" {
		t.Errorf("content = %q, want unchanged", got)
	}
}

func TestAppendLinesConcurrentWriter(t *testing.T) {
	mem := NewMemory()
	v := mem.Put("queue.jsonl", "a\n")
	mem.BeforeReplace = func(name string) {
		mem.BeforeReplace = nil
		mem.Put(name, "a\nother\n")
	}

	err := New(mem).AppendLines(context.Background(), "queue.jsonl", []string{"b"}, v)
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if got, _ := mem.Content("queue.jsonl"); got != "a\nother\n" {
		t.Errorf("content = %q, concurrent write lost", got)
	}
}

func TestAppendLinesNoop(t *testing.T) {
	mem := NewMemory()
	if err := New(mem).AppendLines(context.Background(), "x", nil, ""); err != nil {
		t.Fatalf("AppendLines: %v", err)
	}
	if mem.Replaces() != 0 {
		t.Errorf("replaces = %d, want 0", mem.Replaces())
	}
}

func TestRateLimitError(t *testing.T) {
	err := error(&RateLimitError{Reset: time.Unix(1700000000, 0)})
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Error("RateLimitError should match ErrRateLimited")
	}
	if !strings.Contains(err.Error(), "2023-11-14") {
		t.Errorf("Error() = %q", err.Error())
	}
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Reset.Unix() != 1700000000 {
		t.Error("errors.As failed")
	}
}
