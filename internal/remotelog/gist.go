package remotelog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/starford/notesq/internal/apperr"
	"github.com/starford/notesq/internal/checksum"
)

// Gist is a Backend storing files in a single GitHub gist.
//
// The gist API exposes no per-file revision, so the version token is the
// SHA-256 of the content. A conditional Replace re-reads the gist and
// compares before patching; the window between the two requests is not
// atomic.
type Gist struct {
	client *github.Client
	id     string
}

type gistOptions struct {
	baseURL    string
	httpClient *http.Client
}

// GistOption configures a Gist backend.
type GistOption func(*gistOptions)

// WithBaseURL points the client at another API root (tests, GHES).
func WithBaseURL(u string) GistOption {
	return func(o *gistOptions) { o.baseURL = u }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) GistOption {
	return func(o *gistOptions) { o.httpClient = c }
}

// NewGist creates a backend for gist id authenticated with token.
func NewGist(id, token string, opts ...GistOption) (*Gist, error) {
	o := gistOptions{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}

	client := github.NewClient(o.httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if o.baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("remotelog: gist base url: %w", err)
		}
		client.BaseURL = u
	}
	return &Gist{client: client, id: id}, nil
}

// Fetch implements Backend.
func (g *Gist) Fetch(ctx context.Context) (map[string]File, error) {
	gist, _, err := g.client.Gists.Get(ctx, g.id)
	if err != nil {
		return nil, fmt.Errorf("remotelog: fetch gist: %w", classifyGitHub(err))
	}

	out := make(map[string]File, len(gist.Files))
	for name, f := range gist.Files {
		content := f.GetContent()
		// Large files come back truncated; the raw URL has the full text.
		if f.GetSize() > len(content) && f.GetRawURL() != "" {
			content, err = g.raw(ctx, f.GetRawURL())
			if err != nil {
				return nil, fmt.Errorf("remotelog: fetch raw %s: %w", name, err)
			}
		}
		out[string(name)] = File{Content: content, Version: checksum.String(content)}
	}
	return out, nil
}

// Replace implements Backend.
func (g *Gist) Replace(ctx context.Context, name, content, expectedVersion string) error {
	if expectedVersion != "" {
		files, err := g.Fetch(ctx)
		if err != nil {
			return err
		}
		cur, ok := files[name]
		if !versionMatches(cur, ok, expectedVersion) {
			return fmt.Errorf("remotelog: replace %s: %w", name, apperr.ErrVersionMismatch)
		}
	}

	patch := &github.Gist{
		Files: map[github.GistFilename]github.GistFile{
			github.GistFilename(name): {Content: github.String(content)},
		},
	}
	if _, _, err := g.client.Gists.Edit(ctx, g.id, patch); err != nil {
		return fmt.Errorf("remotelog: patch %s: %w", name, classifyGitHub(err))
	}
	return nil
}

func (g *Gist) raw(ctx context.Context, rawURL string) (string, error) {
	req, err := g.client.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build raw request: %w", err)
	}
	var buf bytes.Buffer
	if _, err := g.client.Do(ctx, req, &buf); err != nil {
		return "", classifyGitHub(err)
	}
	return buf.String(), nil
}

// classifyGitHub maps go-github errors onto the package error model. A
// 403 is a rate limit only when GitHub says so; otherwise it is an
// authorization failure.
func classifyGitHub(err error) error {
	var primary *github.RateLimitError
	if errors.As(err, &primary) {
		return &RateLimitError{Reset: primary.Rate.Reset.Time}
	}
	var secondary *github.AbuseRateLimitError
	if errors.As(err, &secondary) {
		var reset time.Time
		if secondary.RetryAfter != nil {
			reset = time.Now().Add(*secondary.RetryAfter)
		}
		return &RateLimitError{Reset: reset}
	}

	var resp *github.ErrorResponse
	if !errors.As(err, &resp) || resp.Response == nil {
		return err
	}
	status := resp.Response.StatusCode
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && resp.Response.Header.Get("Retry-After") != "":
		return &RateLimitError{Reset: retryAfter(resp.Response.Header, time.Now())}
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: github returned %d", apperr.ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: github returned 404", apperr.ErrNotFound)
	}
	if resp.Message != "" {
		return fmt.Errorf("github returned %d: %s", status, resp.Message)
	}
	return fmt.Errorf("github returned %d", status)
}

func retryAfter(h http.Header, now time.Time) time.Time {
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil {
		return now.Add(time.Duration(secs) * time.Second)
	}
	return time.Time{}
}
