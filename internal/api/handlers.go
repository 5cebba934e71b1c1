package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/starford/notesq/internal/audit"
	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/producer"
	"github.com/starford/notesq/internal/ratelimit"
	"github.com/starford/notesq/internal/telemetry"
	"github.com/starford/notesq/internal/validate"
)

const maxRequestBytes = 1 << 20

// Enqueuer appends signed jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, r producer.NoteRequest) (*job.Job, error)
}

// IngressHandler serves the network-facing enqueue API.
type IngressHandler struct {
	queue     Enqueuer
	policy    validate.Policy
	limiter   ratelimit.Limiter
	rateLimit int
	audit     *audit.Log
}

// NewIngressHandler creates an IngressHandler. limiter is keyed by client
// IP and admits rateLimit requests per window.
func NewIngressHandler(queue Enqueuer, policy validate.Policy, limiter ratelimit.Limiter, rateLimit int, a *audit.Log) *IngressHandler {
	if a == nil {
		a = audit.New(io.Discard)
	}
	return &IngressHandler{queue: queue, policy: policy, limiter: limiter, rateLimit: rateLimit, audit: a}
}

// CreateNote handles POST /notes.
//
//	@Summary		Enqueue a note creation job
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		202		{object}	QueuedResponse
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		429		{object}	errResponse
//	@Router			/notes [post]
func (h *IngressHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	allowed, err := h.limiter.Allow(r.Context(), "ip:"+ip)
	if err != nil {
		slog.Error("ingress rate limiter failed", slog.String("error", err.Error()))
		h.reject(w, r, http.StatusServiceUnavailable, "rate limiter unavailable", "error")
		return
	}
	if !allowed {
		h.reject(w, r, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded: max %d requests per minute", h.rateLimit), "rate_limited")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reject(w, r, http.StatusBadRequest, "invalid JSON body", "invalid")
		return
	}
	if err := req.Validate(); err != nil {
		h.reject(w, r, http.StatusBadRequest, err.Error(), "invalid")
		return
	}

	nr := req.noteRequest()
	if denial := h.policy.CheckArgs(nr.Args()); denial != nil {
		status := http.StatusBadRequest
		if denial.Code == job.CodeFolderNotAllowed {
			status = http.StatusForbidden
		}
		h.record(r, req, "denied", denial.Reason)
		telemetry.IngressRequests.WithLabelValues("denied").Inc()
		writeJSON(w, status, errorBody(denial.Reason))
		return
	}

	j, err := h.queue.Enqueue(r.Context(), nr)
	if err != nil {
		slog.Error("enqueue failed", slog.String("error", err.Error()))
		h.record(r, req, "error", "enqueue failed")
		telemetry.IngressRequests.WithLabelValues("error").Inc()
		writeJSON(w, http.StatusInternalServerError, errorBody("Failed to enqueue job"))
		return
	}

	folder := j.Args.Folder
	if folder == "" {
		folder = notes.DefaultFolder
	}
	account := j.Args.Account
	if account == "" {
		account = notes.DefaultAccount
	}
	h.audit.Record(r.Context(), audit.Record{
		Action:     "enqueue",
		JobID:      j.ID,
		Title:      req.Title,
		Body:       req.Body,
		Account:    account,
		Folder:     folder,
		Outcome:    "queued",
		RemoteAddr: ip,
	})
	telemetry.IngressRequests.WithLabelValues("queued").Inc()
	writeJSON(w, http.StatusAccepted, QueuedResponse{
		Status:  "queued",
		JobID:   j.ID,
		Message: "Note creation job enqueued successfully",
		Folder:  folder,
		Account: account,
	})
}

func (h *IngressHandler) reject(w http.ResponseWriter, r *http.Request, status int, msg, outcome string) {
	h.audit.Record(r.Context(), audit.Record{
		Action:     "enqueue",
		Outcome:    outcome,
		Error:      msg,
		RemoteAddr: clientIP(r),
	})
	telemetry.IngressRequests.WithLabelValues(outcome).Inc()
	writeJSON(w, status, errorBody(msg))
}

func (h *IngressHandler) record(r *http.Request, req CreateNoteRequest, outcome, msg string) {
	h.audit.Record(r.Context(), audit.Record{
		Action:     "enqueue",
		Title:      req.Title,
		Body:       req.Body,
		Account:    req.Account,
		Folder:     req.Folder,
		Outcome:    outcome,
		Error:      msg,
		RemoteAddr: clientIP(r),
	})
}

// BridgeHandler creates notes on the host for containerized workers.
type BridgeHandler struct {
	sink  notes.Sink
	audit *audit.Log
}

// NewBridgeHandler creates a BridgeHandler.
func NewBridgeHandler(sink notes.Sink, a *audit.Log) *BridgeHandler {
	if a == nil {
		a = audit.New(io.Discard)
	}
	return &BridgeHandler{sink: sink, audit: a}
}

// Create handles POST /create.
//
//	@Summary		Create a note on the host
//	@Tags			bridge
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BridgeCreateRequest	true	"Note to create"
//	@Success		200		{object}	notes.Created
//	@Failure		400		{object}	errResponse
//	@Failure		401		{object}	errResponse
//	@Failure		500		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/create [post]
func (h *BridgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req BridgeCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	rec := audit.Record{
		Action:     "bridge_create",
		Title:      req.Title,
		Body:       req.Body,
		Account:    req.Account,
		Folder:     req.Folder,
		RemoteAddr: clientIP(r),
	}
	created, err := h.sink.Create(r.Context(), req.note())
	if err != nil {
		rec.Outcome, rec.Error = "error", err.Error()
		h.audit.Record(r.Context(), rec)
		slog.Error("bridge create failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	rec.Outcome, rec.Account, rec.Folder = "created", created.Account, created.Folder
	h.audit.Record(r.Context(), rec)
	writeJSON(w, http.StatusOK, created)
}

func health(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Service: service})
	}
}
