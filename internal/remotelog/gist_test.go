package remotelog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/notesq/internal/apperr"
	"github.com/starford/notesq/internal/checksum"
)

// fakeGist serves a minimal subset of the gist API.
type fakeGist struct {
	mu      sync.Mutex
	files   map[string]string
	patches int
	auth    string
	// truncate marks files served with truncated=true and a raw_url.
	truncate map[string]bool
	baseURL  string
}

func (f *fakeGist) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gists/g1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = r.Header.Get("Authorization")
		files := map[string]any{}
		for name, content := range f.files {
			if f.truncate[name] {
				files[name] = map[string]any{
					"content":   content[:1],
					"size":      len(content),
					"truncated": true,
					"raw_url":   f.baseURL + "/raw/" + name,
				}
				continue
			}
			files[name] = map[string]any{"content": content}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"files": files})
	})
	mux.HandleFunc("GET /raw/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, _ = w.Write([]byte(f.files[r.PathValue("name")]))
	})
	mux.HandleFunc("PATCH /gists/g1", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Files map[string]struct {
				Content string `json:"content"`
			} `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode patch: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.patches++
		for name, fc := range body.Files {
			f.files[name] = fc.Content
		}
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func newFakeGist(t *testing.T, files map[string]string) (*fakeGist, *Gist) {
	t.Helper()
	f := &fakeGist{files: files, truncate: map[string]bool{}}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	f.baseURL = srv.URL
	g, err := NewGist("g1", "tok", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewGist: %v", err)
	}
	return f, g
}

func TestGistFetch(t *testing.T) {
	f, g := newFakeGist(t, map[string]string{"queue.jsonl": "a\n", "big.jsonl": "xyz\n"})
	f.truncate["big.jsonl"] = true

	files, err := g.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if files["queue.jsonl"].Content != "a\n" {
		t.Errorf("queue content = %q", files["queue.jsonl"].Content)
	}
	if files["queue.jsonl"].Version != checksum.String("a\n") {
		t.Errorf("version should be content checksum")
	}
	if files["big.jsonl"].Content != "xyz\n" {
		t.Errorf("truncated file not re-read: %q", files["big.jsonl"].Content)
	}
	if f.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", f.auth)
	}
}

func TestGistReplace(t *testing.T) {
	ctx := context.Background()
	f, g := newFakeGist(t, map[string]string{"queue.jsonl": "a\n"})

	if err := g.Replace(ctx, "queue.jsonl", "b\n", checksum.String("a\n")); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if f.files["queue.jsonl"] != "b\n" {
		t.Errorf("content = %q", f.files["queue.jsonl"])
	}

	err := g.Replace(ctx, "queue.jsonl", "c\n", checksum.String("a\n"))
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if f.patches != 1 {
		t.Errorf("patches = %d, want 1", f.patches)
	}
}

func TestGistErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(error) bool
	}{
		{"primary rate limit", 403, map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "1700000000"}, "", func(err error) bool {
			var rl *RateLimitError
			return errors.As(err, &rl) && rl.Reset.Equal(time.Unix(1700000000, 0))
		}},
		{"secondary rate limit", 403, map[string]string{"Retry-After": "60"},
			`{"message":"You have exceeded a secondary rate limit","documentation_url":"https://docs.github.com/rest/overview/rate-limits-for-the-rest-api#about-secondary-rate-limits"}`,
			func(err error) bool {
				var rl *RateLimitError
				return errors.As(err, &rl) && rl.Reset.After(time.Now().Add(30*time.Second))
			}},
		{"retry after without documentation", 403, map[string]string{"Retry-After": "60"}, "", func(err error) bool {
			var rl *RateLimitError
			return errors.As(err, &rl) && !rl.Reset.IsZero()
		}},
		{"too many requests", 429, nil, "", func(err error) bool { return errors.Is(err, apperr.ErrRateLimited) }},
		{"bad credentials", 401, nil, "", func(err error) bool { return errors.Is(err, apperr.ErrUnauthorized) }},
		{"forbidden", 403, map[string]string{"X-RateLimit-Remaining": "42"}, "", func(err error) bool {
			return errors.Is(err, apperr.ErrUnauthorized)
		}},
		{"missing gist", 404, nil, "", func(err error) bool { return errors.Is(err, apperr.ErrNotFound) }},
		{"server error", 502, nil, "", func(err error) bool {
			return err != nil && !errors.Is(err, apperr.ErrUnauthorized) && !errors.Is(err, apperr.ErrRateLimited)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == "" {
				body = `{"message":"nope"}`
			}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			g, err := NewGist("g1", "secret-token", WithBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("NewGist: %v", err)
			}
			_, err = g.Fetch(context.Background())
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
			if err != nil && strings.Contains(err.Error(), "secret-token") {
				t.Error("error leaks token")
			}
		})
	}
}

func TestGistReplaceClassifiesPatchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))
	defer srv.Close()

	g, err := NewGist("g1", "tok", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewGist: %v", err)
	}
	err = g.Replace(context.Background(), "queue.jsonl", "x\n", "")
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
