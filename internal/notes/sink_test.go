package notes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeOSAScript writes a shell script standing in for osascript. Its
// arguments are: -e <script> <title> <body> <folder> <account>.
func fakeOSAScript(t *testing.T, script string) *OSAScript {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "osascript")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return &OSAScript{Path: path}
}

func TestOSAScriptCreate(t *testing.T) {
	o := fakeOSAScript(t, `echo "SUCCESS|$6|$5|ref-$(printf %s "$3" | wc -c | tr -d ' ')"`)
	c, err := o.Create(context.Background(), Note{Title: "Hello", Body: "B"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Account != DefaultAccount || c.Folder != DefaultFolder || c.Reference != "ref-5" {
		t.Errorf("created = %+v", c)
	}
}

func TestOSAScriptPassesHashtags(t *testing.T) {
	o := fakeOSAScript(t, `echo "SUCCESS|a|f|$4"`)
	c, err := o.Create(context.Background(), Note{Title: "T", Body: "body", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Reference != "body\n\n#x" {
		t.Errorf("body passed = %q", c.Reference)
	}
}

func TestOSAScriptFailure(t *testing.T) {
	o := fakeOSAScript(t, `echo "Notes got an error: denied" >&2; exit 1`)
	_, err := o.Create(context.Background(), Note{Title: "T", Body: "B"})
	if err == nil || !strings.Contains(err.Error(), "Notes got an error: denied") {
		t.Errorf("err = %v", err)
	}
}

func TestOSAScriptTimeout(t *testing.T) {
	o := fakeOSAScript(t, `exec sleep 5`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.Create(ctx, Note{Title: "T", Body: "B"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("process was not killed on timeout")
	}
}

func TestBridgeClientCreate(t *testing.T) {
	var got Note
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/create" || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"account":"iCloud","folder":"Work","reference":"r1"}`))
	}))
	defer srv.Close()

	b, err := NewBridgeClient(srv.URL+"/", "tok", srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	c, err := b.Create(context.Background(), Note{Title: "T", Body: "B", Folder: "Work", Tags: []string{"a"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Reference != "r1" || c.Folder != "Work" {
		t.Errorf("created = %+v", c)
	}
	if got.Account != DefaultAccount || len(got.Tags) != 1 {
		t.Errorf("request = %+v", got)
	}

	bad, _ := NewBridgeClient(srv.URL, "wrong", srv.Client())
	if _, err := bad.Create(context.Background(), Note{Title: "T"}); err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("err = %v", err)
	}
}

func TestNewBridgeClientRequiresConfig(t *testing.T) {
	if _, err := NewBridgeClient("", "t", nil); err == nil {
		t.Error("missing url should fail")
	}
	if _, err := NewBridgeClient("http://x", "", nil); err == nil {
		t.Error("missing token should fail")
	}
}

func TestLogSink(t *testing.T) {
	var buf strings.Builder
	s := &LogSink{
		Logger: slog.New(slog.NewJSONHandler(&buf, nil)),
		now:    func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	c, err := s.Create(context.Background(), Note{Title: "secret title", Body: "secret body"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Reference != "dry-run:2024-01-01T00:00:00Z" {
		t.Errorf("reference = %q", c.Reference)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Error("log contains note content")
	}
}
