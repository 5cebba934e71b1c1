// Package worker drains the remote queue: it dedups, validates and
// executes jobs, reports results and compacts the queue file.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/notesq/internal/apperr"
	"github.com/starford/notesq/internal/audit"
	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/remotelog"
	"github.com/starford/notesq/internal/telemetry"
	"github.com/starford/notesq/internal/validate"
)

// Ledger is the idempotency store.
type Ledger interface {
	Has(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, id, status string) error
	Prune(ctx context.Context, maxRows int) (int64, error)
}

// Checker decides whether a job may run.
type Checker interface {
	Check(ctx context.Context, j *job.Job, now time.Time) (*validate.Denial, error)
}

// Publisher receives every result the worker emits.
type Publisher interface {
	PublishResult(r job.Result)
}

// Config holds worker settings.
type Config struct {
	QueueFile        string
	ResultsFile      string
	PollInterval     time.Duration
	OffHoursInterval time.Duration
	SinkTimeout      time.Duration
	LedgerMaxRows    int
	Hours            BusinessHours
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		QueueFile:        "queue.jsonl",
		ResultsFile:      "results.jsonl",
		PollInterval:     15 * time.Second,
		OffHoursInterval: 5 * time.Minute,
		SinkTimeout:      30 * time.Second,
		LedgerMaxRows:    5000,
		Hours:            DefaultBusinessHours(),
	}
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Lines     int
	Malformed int
	Results   []job.Result
	// Recorded counts jobs newly written to the ledger.
	Recorded int
	// Compacted counts queue lines removed.
	Compacted int
	// Conflicts lists files whose conditional write lost a race.
	Conflicts []string
}

// Idle reports whether the queue had nothing to do.
func (r CycleReport) Idle() bool { return r.Lines == 0 }

// Option configures a Worker.
type Option func(*Worker)

// WithAudit records every outcome in the audit log.
func WithAudit(a *audit.Log) Option {
	return func(w *Worker) { w.audit = a }
}

// WithPublisher streams results to p.
func WithPublisher(p Publisher) Option {
	return func(w *Worker) { w.events = p }
}

// WithWake ends the inter-cycle sleep early when wake fires.
func WithWake(wake <-chan struct{}) Option {
	return func(w *Worker) { w.wake = wake }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Worker is the single queue consumer.
type Worker struct {
	log      *remotelog.Log
	ledger   Ledger
	pipeline Checker
	sink     notes.Sink
	logger   *slog.Logger
	cfg      Config

	audit  *audit.Log
	events Publisher
	wake   <-chan struct{}
	now    func() time.Time

	// pending holds result lines whose append lost a race; they are
	// written ahead of the next cycle's results.
	pending []string
}

// New creates a worker.
func New(log *remotelog.Log, ledger Ledger, pipeline Checker, sink notes.Sink, logger *slog.Logger, cfg Config, opts ...Option) *Worker {
	w := &Worker{
		log:      log,
		ledger:   ledger,
		pipeline: pipeline,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		audit:    audit.New(io.Discard),
		now:      time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run polls until ctx is cancelled. Cancellation is honoured between
// cycles only; a cycle in progress runs to completion. It returns an
// error only when the remote store rejects the credentials.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.ledger.Prune(ctx, w.cfg.LedgerMaxRows); err != nil {
		w.logger.Warn("worker: startup prune failed", slog.String("error", err.Error()))
	} else if n > 0 {
		w.logger.Info("worker: pruned ledger", slog.Int64("removed", n))
	}

	w.logger.Info("worker: started",
		slog.String("queue_file", w.cfg.QueueFile),
		slog.String("results_file", w.cfg.ResultsFile),
		slog.Duration("poll_interval", w.cfg.PollInterval),
		slog.Bool("business_hours", w.cfg.Hours.Enabled))

	failures := 0
	for ctx.Err() == nil {
		delay := w.cfg.PollInterval
		if !w.cfg.Hours.Open(w.now()) {
			delay = w.cfg.OffHoursInterval
		}

		report, err := w.RunCycle(context.WithoutCancel(ctx))
		var rl *remotelog.RateLimitError
		switch {
		case err == nil:
			failures = 0
			outcome := "ok"
			if report.Idle() {
				outcome = "idle"
			}
			telemetry.Cycles.WithLabelValues(outcome).Inc()
		case errors.Is(err, apperr.ErrUnauthorized):
			telemetry.Cycles.WithLabelValues("fatal").Inc()
			w.logger.Error("worker: remote store rejected credentials", slog.String("error", err.Error()))
			return fmt.Errorf("worker: %w", err)
		case errors.As(err, &rl):
			telemetry.Cycles.WithLabelValues("rate_limited").Inc()
			delay = rateLimitDelay(rl.Reset, w.now(), w.cfg.PollInterval)
			w.logger.Warn("worker: rate limited", slog.Duration("retry_in", delay))
		default:
			telemetry.Cycles.WithLabelValues("error").Inc()
			failures++
			delay = backoff(w.cfg.PollInterval, failures)
			w.logger.Warn("worker: cycle failed",
				slog.String("error", err.Error()),
				slog.Int("failures", failures),
				slog.Duration("retry_in", delay))
		}

		w.sleep(ctx, delay)
	}
	w.logger.Info("worker: stopped")
	return nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-w.wake:
		w.logger.Debug("worker: woken early")
	}
}

// RunCycle performs one fetch, process, report and compact pass.
func (w *Worker) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	files, err := w.log.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("worker: fetch: %w", err)
	}
	queue, ok := files[w.cfg.QueueFile]
	lines := remotelog.Lines(queue.Content)
	telemetry.QueueDepth.Set(float64(len(lines)))
	if !ok || len(lines) == 0 {
		return report, w.flushPending(ctx, files, &report)
	}
	report.Lines = len(lines)

	// done holds ids whose lines may be removed from the queue.
	done := make(map[string]struct{})
	// unusable holds the text of lines without a job_id; they are
	// denied once and then removed.
	unusable := make(map[string]struct{})
	seen := make(map[string]struct{})

	for _, line := range lines {
		j, err := job.Decode([]byte(line))
		if err != nil {
			report.Malformed++
			telemetry.MalformedLines.Inc()
			w.logger.Warn("worker: skipping malformed queue line",
				slog.Int("length", len(line)),
				slog.String("error", err.Error()))
			continue
		}

		id, _ := rawID(j)
		if strings.TrimSpace(id) == "" {
			if _, dup := unusable[line]; dup {
				continue
			}
			unusable[line] = struct{}{}
			w.emit(&report, j, w.result(job.UnknownID, job.StatusDenied, job.CodeInvalidSchema, "Missing or invalid job_id"))
			continue
		}

		if _, dup := seen[id]; dup {
			if _, handled := done[id]; handled {
				w.emit(&report, j, w.result(id, job.StatusSkippedDuplicate, job.CodeDuplicate, "Duplicate job_id in queue"))
			}
			continue
		}
		seen[id] = struct{}{}

		known, err := w.ledger.Has(ctx, id)
		if err != nil {
			w.logger.Error("worker: ledger lookup failed", slog.String("job_id", id), slog.String("error", err.Error()))
			continue
		}
		if known {
			done[id] = struct{}{}
			w.emit(&report, j, w.result(id, job.StatusSkippedDuplicate, job.CodeDuplicate, "Job already processed"))
			continue
		}

		res, terminal := w.process(ctx, j)
		if !terminal {
			continue
		}
		if err := w.ledger.Record(ctx, id, string(res.Status)); err != nil {
			// The line is still compacted: re-running a created job
			// would duplicate the note.
			w.logger.Error("worker: ledger record failed", slog.String("job_id", id), slog.String("error", err.Error()))
		} else {
			report.Recorded++
		}
		done[id] = struct{}{}
		w.emit(&report, j, res)
	}

	if err := w.appendResults(ctx, files, &report); err != nil {
		return report, err
	}
	if len(done) > 0 || len(unusable) > 0 {
		if err := w.compact(ctx, done, unusable, &report); err != nil {
			return report, err
		}
	}
	if report.Recorded > 0 {
		if n, err := w.ledger.Prune(ctx, w.cfg.LedgerMaxRows); err != nil {
			w.logger.Warn("worker: prune failed", slog.String("error", err.Error()))
		} else if n > 0 {
			w.logger.Info("worker: pruned ledger", slog.Int64("removed", n))
		}
	}

	w.logger.Info("worker: cycle complete",
		slog.Int("lines", report.Lines),
		slog.Int("results", len(report.Results)),
		slog.Int("recorded", report.Recorded),
		slog.Int("compacted", report.Compacted),
		slog.Int("malformed", report.Malformed))
	return report, nil
}

// process validates and executes one job. terminal is false when the job
// could not be decided and must stay queued.
func (w *Worker) process(ctx context.Context, j *job.Job) (job.Result, bool) {
	denial, err := w.pipeline.Check(ctx, j, w.now())
	if err != nil {
		w.logger.Warn("worker: validation unavailable", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return job.Result{}, false
	}
	if denial != nil {
		telemetry.JobsDenied.WithLabelValues(denial.Code).Inc()
		w.logger.Info("worker: job denied",
			slog.String("job_id", j.ID),
			slog.String("code", denial.Code),
			slog.String("reason", denial.Reason))
		return w.result(j.ID, job.StatusDenied, denial.Code, denial.Reason), true
	}

	sinkCtx, cancel := context.WithTimeout(ctx, w.cfg.SinkTimeout)
	start := time.Now()
	created, err := w.sink.Create(sinkCtx, notes.FromArgs(j.Args))
	cancel()
	telemetry.SinkDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.logger.Error("worker: note creation failed", slog.String("job_id", j.ID), slog.String("error", err.Error()))
		return w.result(j.ID, job.StatusError, job.CodeExecution, err.Error()), true
	}
	res := w.result(j.ID, job.StatusCreated, "", "")
	res.Location = created.Location()
	res.Reference = created.Reference
	w.logger.Info("worker: note created", slog.String("job_id", j.ID), slog.String("folder", created.Folder))
	return res, true
}

func (w *Worker) result(id string, status job.Status, code, reason string) job.Result {
	return job.Result{
		JobID:       id,
		ProcessedAt: job.FormatTime(w.now()),
		Status:      status,
		Code:        code,
		Reason:      reason,
	}
}

// emit records a result in the report, the audit log, metrics and the
// event stream.
func (w *Worker) emit(report *CycleReport, j *job.Job, r job.Result) {
	report.Results = append(report.Results, r)
	telemetry.JobsProcessed.WithLabelValues(string(r.Status)).Inc()

	rec := audit.Record{
		Action:  "create",
		JobID:   r.JobID,
		Title:   j.Args.Title,
		Body:    j.Args.Body,
		Account: j.Args.Account,
		Folder:  j.Args.Folder,
		Outcome: string(r.Status),
	}
	if r.Status == job.StatusDenied || r.Status == job.StatusError {
		rec.Error = r.Reason
	}
	w.audit.Record(context.Background(), rec)

	if w.events != nil {
		w.events.PublishResult(r)
	}
}

// appendResults writes this cycle's results, plus any carried over, in one
// append guarded by the results file version read at the start of the
// cycle.
func (w *Worker) appendResults(ctx context.Context, files map[string]remotelog.File, report *CycleReport) error {
	for _, r := range report.Results {
		line, err := r.Line()
		if err != nil {
			w.logger.Error("worker: encode result", slog.String("job_id", r.JobID), slog.String("error", err.Error()))
			continue
		}
		w.pending = append(w.pending, line)
	}
	return w.flushPending(ctx, files, report)
}

func (w *Worker) flushPending(ctx context.Context, files map[string]remotelog.File, report *CycleReport) error {
	if len(w.pending) == 0 {
		return nil
	}
	expected := remotelog.VersionAbsent
	if f, ok := files[w.cfg.ResultsFile]; ok {
		expected = f.Version
	}
	err := w.log.AppendLines(ctx, w.cfg.ResultsFile, w.pending, expected)
	switch {
	case err == nil:
		w.pending = nil
		return nil
	case errors.Is(err, apperr.ErrVersionMismatch):
		telemetry.VersionConflicts.WithLabelValues(w.cfg.ResultsFile).Inc()
		report.Conflicts = append(report.Conflicts, w.cfg.ResultsFile)
		w.logger.Warn("worker: results file changed concurrently, retrying next cycle",
			slog.Int("pending", len(w.pending)))
		return nil
	default:
		return fmt.Errorf("worker: append results: %w", err)
	}
}

// compact re-reads the queue and removes the lines of handled jobs.
func (w *Worker) compact(ctx context.Context, done, unusable map[string]struct{}, report *CycleReport) error {
	files, err := w.log.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("worker: refetch queue: %w", err)
	}
	queue, ok := files[w.cfg.QueueFile]
	if !ok {
		return nil
	}

	var keep []string
	removed := 0
	for _, line := range remotelog.Lines(queue.Content) {
		if _, drop := unusable[line]; drop {
			removed++
			continue
		}
		if j, err := job.Decode([]byte(line)); err == nil {
			if id, ok := rawID(j); ok {
				if _, handled := done[id]; handled {
					removed++
					continue
				}
			}
		}
		keep = append(keep, line)
	}
	if removed == 0 {
		return nil
	}

	content := ""
	if len(keep) > 0 {
		content = strings.Join(keep, "\n") + "\n"
	}
	err = w.log.Replace(ctx, w.cfg.QueueFile, content, queue.Version)
	switch {
	case err == nil:
		report.Compacted = removed
		return nil
	case errors.Is(err, apperr.ErrVersionMismatch):
		telemetry.VersionConflicts.WithLabelValues(w.cfg.QueueFile).Inc()
		report.Conflicts = append(report.Conflicts, w.cfg.QueueFile)
		w.logger.Warn("worker: queue changed concurrently, compacting next cycle")
		return nil
	default:
		return fmt.Errorf("worker: compact queue: %w", err)
	}
}

// rawID returns job_id only when it was decoded as a string.
func rawID(j *job.Job) (string, bool) {
	v, ok := j.Field("job_id")
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
