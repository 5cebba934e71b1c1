// Package sse streams job results to status subscribers as Server-Sent
// Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/starford/notesq/internal/job"
)

// message is one encoded result event.
type message struct {
	id    uint64
	jobID string
	frame []byte
}

type subscriber struct {
	ch    chan message
	jobID string
}

func (s *subscriber) wants(m message) bool {
	return s.jobID == "" || s.jobID == m.jobID
}

// Hub fans job results out to /events subscribers. It keeps the most
// recent results so a reconnecting client resumes from Last-Event-ID.
type Hub struct {
	keepAlive time.Duration
	capacity  int

	mu      sync.Mutex
	seq     uint64
	backlog []message
	subs    map[*subscriber]struct{}
	closed  bool
}

// NewHub creates a hub retaining up to backlog results and sending a
// comment line every keepAlive on idle streams.
func NewHub(backlog int, keepAlive time.Duration) *Hub {
	if backlog <= 0 {
		backlog = 256
	}
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Hub{
		keepAlive: keepAlive,
		capacity:  backlog,
		subs:      make(map[*subscriber]struct{}),
	}
}

// PublishResult broadcasts r as a job.<status> event. Slow subscribers
// miss events instead of blocking the worker.
func (h *Hub) PublishResult(r job.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	m := message{
		id:    h.seq,
		jobID: r.JobID,
		frame: []byte(fmt.Sprintf("id: %d\nevent: job.%s\ndata: %s\n\n", h.seq, r.Status, data)),
	}
	h.backlog = append(h.backlog, m)
	if len(h.backlog) > h.capacity {
		h.backlog = h.backlog[len(h.backlog)-h.capacity:]
	}
	for s := range h.subs {
		if !s.wants(m) {
			continue
		}
		select {
		case s.ch <- m:
		default:
		}
	}
}

// subscribe registers a subscriber and returns the retained events newer
// than after. ok is false once the hub is closed.
func (h *Hub) subscribe(jobID string, after uint64) (s *subscriber, replay []message, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, false
	}
	s = &subscriber{ch: make(chan message, 64), jobID: jobID}
	for _, m := range h.backlog {
		if m.id > after && s.wants(m) {
			replay = append(replay, m)
		}
	}
	h.subs[s] = struct{}{}
	return s, replay, true
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every stream. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}

// ServeHTTP is the SSE endpoint handler (GET /events). The optional
// job_id query parameter follows a single job.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	after, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)
	s, replay, ok := h.subscribe(r.URL.Query().Get("job_id"), after)
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(s)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	for _, m := range replay {
		_, _ = w.Write(m.frame)
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case m, ok := <-s.ch:
			if !ok {
				return
			}
			_, _ = w.Write(m.frame)
			flusher.Flush()
		}
	}
}
