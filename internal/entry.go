// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notesq/internal/api"
	"github.com/starford/notesq/internal/audit"
	"github.com/starford/notesq/internal/export"
	"github.com/starford/notesq/internal/ledger"
	"github.com/starford/notesq/internal/mcpserver"
	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/producer"
	"github.com/starford/notesq/internal/ratelimit"
	"github.com/starford/notesq/internal/remotelog"
	"github.com/starford/notesq/internal/sse"
	"github.com/starford/notesq/internal/telemetry"
	"github.com/starford/notesq/internal/validate"
	"github.com/starford/notesq/internal/worker"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger builds the structured JSON logger and installs it as default.
func (a *application) logger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOut, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func (a *application) openBackend(ctx context.Context) (remotelog.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	q := a.config.Queue
	if err := q.RequireCredentials(); err != nil {
		return nil, fmt.Errorf("queue %s: %w", q.Backend, err)
	}
	switch q.Backend {
	case BackendGist:
		var opts []remotelog.GistOption
		if q.Gist.BaseURL != "" {
			opts = append(opts, remotelog.WithBaseURL(q.Gist.BaseURL))
		}
		g, err := remotelog.NewGist(q.Gist.ID, q.Gist.Token, opts...)
		if err != nil {
			return nil, err
		}
		return g, nil
	case BackendS3:
		client, err := remotelog.NewS3Client(ctx, q.S3.Region, q.S3.Endpoint, q.S3.PathStyle)
		if err != nil {
			return nil, err
		}
		return remotelog.NewS3(client, q.S3.Bucket, q.S3.Prefix), nil
	case BackendDir:
		return remotelog.NewDir(q.Dir.Path)
	}
	return nil, fmt.Errorf("unknown queue backend %q", q.Backend)
}

func (a *application) openSink(logger *slog.Logger) (notes.Sink, error) {
	if a.sink != nil {
		return a.sink, nil
	}
	s := a.config.Sink
	switch s.Mode {
	case SinkOSAScript:
		return &notes.OSAScript{Path: s.OSAScriptPath}, nil
	case SinkBridge:
		return notes.NewBridgeClient(s.BridgeURL, s.BridgeToken, nil)
	case SinkLog:
		return &notes.LogSink{Logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown sink mode %q", s.Mode)
}

func (a *application) policy() validate.Policy {
	return a.config.Security.Policy(a.config.Worker.MaxJobAge)
}

// RunWorker runs the queue worker until ctx is cancelled or a shutdown
// signal arrives.
func RunWorker(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	if err := cfg.RequireSigning(); err != nil {
		return err
	}
	backend, err := app.openBackend(ctx)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	sink, err := app.openSink(logger)
	if err != nil {
		return fmt.Errorf("init sink: %w", err)
	}
	hours, err := cfg.Worker.BusinessHours.Hours()
	if err != nil {
		return err
	}

	logger.Info("Configuration loaded",
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("queue_file", cfg.Queue.QueueFile),
		slog.String("results_file", cfg.Queue.ResultsFile),
		slog.String("sink", cfg.Sink.Mode),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if dir := filepath.Dir(cfg.Ledger.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("init audit: %w", err)
	}
	defer auditLog.Close()

	limiter := ratelimit.NewWindow(cfg.Security.RateLimit.Max, cfg.Security.RateLimit.Window)
	pipeline := validate.NewPipeline(app.policy(), cfg.Security.HMACSecret, limiter)

	events := sse.NewHub(256, 15*time.Second)
	defer events.Close()

	wake := make(chan struct{}, 1)
	w := worker.New(remotelog.New(backend), db, pipeline, sink, logger, worker.Config{
		QueueFile:        cfg.Queue.QueueFile,
		ResultsFile:      cfg.Queue.ResultsFile,
		PollInterval:     cfg.Worker.PollInterval,
		OffHoursInterval: cfg.Worker.OffHoursInterval,
		SinkTimeout:      cfg.Worker.SinkTimeout,
		LedgerMaxRows:    cfg.Ledger.MaxRows,
		Hours:            hours,
	}, worker.WithAudit(auditLog), worker.WithPublisher(events), worker.WithWake(wake))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return w.Run(gCtx)
	})

	if dir, ok := backend.(*remotelog.Dir); ok && cfg.Queue.Dir.Watch {
		g.Go(func() error {
			err := dir.Watch(gCtx, logger, func(name string) {
				if name != cfg.Queue.QueueFile {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			})
			if err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	var servers []*http.Server
	if cfg.App.HTTP.Enabled() {
		srv := &http.Server{
			Addr:              cfg.App.HTTP.Address(),
			Handler:           statusRouter(db, events),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		serve(g, srv, logger)
	}

	g.Go(func() error {
		awaitShutdown(gCtx, cancel, logger, servers...)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Worker stopped successfully")
	return nil
}

func statusRouter(db *ledger.DB, events *sse.Hub) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := db.Count(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"ledger unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", telemetry.Handler())
	r.Get("/events", events.ServeHTTP)
	return r
}

// RunIngress serves the enqueue API.
func RunIngress(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	if err := cfg.RequireSigning(); err != nil {
		return err
	}
	backend, err := app.openBackend(ctx)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("init audit: %w", err)
	}
	defer auditLog.Close()

	rl := cfg.Ingress.RateLimit
	var limiter ratelimit.Limiter = ratelimit.NewWindow(rl.Max, rl.Window)
	if cfg.Ingress.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Ingress.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		limiter = ratelimit.NewRedisWindow(client, "notesq:ingress:", rl.Max, rl.Window)
	}

	prod := producer.New(remotelog.New(backend), cfg.Queue.QueueFile, cfg.Security.HMACSecret, logger)
	h := api.NewIngressHandler(prod, app.policy(), limiter, rl.Max, auditLog)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Handle("/metrics", telemetry.Handler())
	r.Mount("/", api.NewIngressRouter(h, cfg.Ingress.Key))

	logger.Info("Ingress starting...",
		slog.String("http_address", cfg.Ingress.HTTP.Address()),
		slog.Bool("key_required", cfg.Ingress.Key != ""),
		slog.Bool("shared_rate_limit", cfg.Ingress.RedisAddr != ""))
	return runServer(ctx, &http.Server{
		Addr:              cfg.Ingress.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, logger)
}

// RunBridge serves the host bridge that creates notes for containerized
// workers.
func RunBridge(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	if cfg.Bridge.Token == "" {
		return errors.New("bridge: token is required")
	}
	sink := app.sink
	if sink == nil {
		sink = &notes.OSAScript{Path: cfg.Sink.OSAScriptPath}
	}
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("init audit: %w", err)
	}
	defer auditLog.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Mount("/", api.NewBridgeRouter(api.NewBridgeHandler(sink, auditLog), cfg.Bridge.Token))

	logger.Info("Bridge starting...", slog.String("http_address", cfg.Bridge.HTTP.Address()))
	return runServer(ctx, &http.Server{
		Addr:              cfg.Bridge.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}, logger)
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger()

	if err := cfg.RequireSigning(); err != nil {
		return err
	}
	backend, err := app.openBackend(ctx)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("init audit: %w", err)
	}
	defer auditLog.Close()

	log := remotelog.New(backend)
	prod := producer.New(log, cfg.Queue.QueueFile, cfg.Security.HMACSecret, logger)
	srv := mcpserver.New(prod, log, mcpserver.Files{
		Queue:   cfg.Queue.QueueFile,
		Results: cfg.Queue.ResultsFile,
	}, app.policy(), auditLog)

	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// SignNote returns a signed queue line for r without enqueueing it.
func SignNote(r producer.NoteRequest, opts ...Option) (string, error) {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return "", err
	}
	if err := app.config.RequireSigning(); err != nil {
		return "", err
	}
	prod := producer.New(nil, app.config.Queue.QueueFile, app.config.Security.HMACSecret, app.logger())
	_, line, err := prod.Line(r)
	return line, err
}

// EnqueueNote signs r and appends it to the configured queue.
func EnqueueNote(ctx context.Context, r producer.NoteRequest, opts ...Option) (string, error) {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return "", err
	}
	cfg := app.config
	logger := app.logger()
	if err := cfg.RequireSigning(); err != nil {
		return "", err
	}
	if denial := app.policy().CheckArgs(r.Args()); denial != nil {
		return "", denial
	}
	backend, err := app.openBackend(ctx)
	if err != nil {
		return "", fmt.Errorf("init queue: %w", err)
	}
	j, err := producer.New(remotelog.New(backend), cfg.Queue.QueueFile, cfg.Security.HMACSecret, logger).Enqueue(ctx, r)
	if err != nil {
		return "", err
	}
	return j.ID, nil
}

// ExportOptions selects what ExportNotes writes and where.
type ExportOptions struct {
	Format      string
	Output      string
	Since       time.Duration
	MaxNotes    int
	IncludeBody bool
}

// ExportNotes reads notes in the allowed folders from Apple Notes and
// writes them to a local JSONL file or SQLite database. It returns the
// output path and the number of notes written.
func ExportNotes(ctx context.Context, eo ExportOptions, opts ...Option) (string, int, error) {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return "", 0, err
	}
	logger := app.logger()

	if eo.Format == "" {
		eo.Format = export.FormatJSONL
	}
	if eo.Output == "" {
		eo.Output = filepath.Join(".data", "notes_export.jsonl")
		if eo.Format == export.FormatSQLite {
			eo.Output = filepath.Join(".data", "notes_export.db")
		}
	}
	if eo.Format != export.FormatJSONL && eo.Format != export.FormatSQLite {
		return "", 0, fmt.Errorf("export: unknown format %q", eo.Format)
	}

	reader := app.reader
	if reader == nil {
		reader = &notes.OSAScriptReader{Path: app.config.Sink.OSAScriptPath}
	}
	readCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	all, err := reader.Read(readCtx, app.policy().Folders())
	if err != nil {
		return "", 0, fmt.Errorf("export: %w", err)
	}
	selected := export.Select(all, eo.Since, eo.MaxNotes, time.Now())
	logger.Info("export: notes read",
		slog.Int("found", len(all)),
		slog.Int("selected", len(selected)),
		slog.Bool("include_body", eo.IncludeBody))

	if err := os.MkdirAll(filepath.Dir(eo.Output), 0o755); err != nil {
		return "", 0, fmt.Errorf("export: create output dir: %w", err)
	}
	switch eo.Format {
	case export.FormatSQLite:
		db, err := export.OpenDB(eo.Output)
		if err != nil {
			return "", 0, err
		}
		defer db.Close()
		if err := db.Write(ctx, selected, eo.IncludeBody); err != nil {
			return "", 0, err
		}
	default:
		f, err := os.Create(eo.Output)
		if err != nil {
			return "", 0, fmt.Errorf("export: create output: %w", err)
		}
		if err := export.WriteJSONL(f, selected, eo.IncludeBody); err != nil {
			f.Close()
			return "", 0, err
		}
		if err := f.Close(); err != nil {
			return "", 0, fmt.Errorf("export: close output: %w", err)
		}
	}
	return eo.Output, len(selected), nil
}

// runServer serves srv until ctx is cancelled or a shutdown signal arrives.
func runServer(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)
	serve(g, srv, logger)
	g.Go(func() error {
		awaitShutdown(gCtx, cancel, logger, srv)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}

func serve(g *errgroup.Group, srv *http.Server, logger *slog.Logger) {
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
}

// awaitShutdown blocks until a signal or ctx cancellation, then cancels
// the run and shuts the servers down.
func awaitShutdown(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, servers ...*http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
	}
}
