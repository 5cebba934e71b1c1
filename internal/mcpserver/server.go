// Package mcpserver provides an MCP (Model Context Protocol) server
// that lets LLM clients request notes via stdio transport. Requests are
// signed and enqueued; the worker creates the notes.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/notesq/internal/audit"
	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/producer"
	"github.com/starford/notesq/internal/remotelog"
	"github.com/starford/notesq/internal/validate"
)

const contractURI = "notesq://request-contract"

// Enqueuer appends signed jobs to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, r producer.NoteRequest) (*job.Job, error)
}

// Files names the shared queue and results files.
type Files struct {
	Queue   string
	Results string
}

// Server wraps the MCP server with the notes tools.
type Server struct {
	mcp    *server.MCPServer
	queue  Enqueuer
	log    *remotelog.Log
	files  Files
	policy validate.Policy
	audit  *audit.Log
}

// New creates a new MCP server with all tools registered. a may be nil.
func New(queue Enqueuer, log *remotelog.Log, files Files, policy validate.Policy, a *audit.Log) *Server {
	if a == nil {
		a = audit.New(io.Discard)
	}
	s := &Server{queue: queue, log: log, files: files, policy: policy, audit: a}

	s.mcp = server.NewMCPServer(
		"notesq",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("notes.create",
		mcp.WithDescription("Create a new note in Apple Notes. The request is queued and "+
			"executed by the trusted worker; use notes.status with the returned job_id to "+
			"follow it. Read "+contractURI+" for limits and allowed folders."),
		mcp.WithString("title", mcp.Required(), mcp.Description(fmt.Sprintf("Note title (max %d characters)", policy.MaxTitleRunes))),
		mcp.WithString("body", mcp.Required(), mcp.Description(fmt.Sprintf("Note body (max %d characters)", policy.MaxBodyRunes))),
		mcp.WithString("folder", mcp.Description("Target folder (default: '"+notes.DefaultFolder+"')")),
		mcp.WithString("account", mcp.Description("Target account (default: '"+notes.DefaultAccount+"')"), mcp.Enum(validate.Accounts...)),
		mcp.WithBoolean("confirm", mcp.Description("Confirmation flag (required when the deployment demands it)")),
		mcp.WithArray("tags",
			mcp.Description(fmt.Sprintf("Optional tags; appended as hashtags to the body (max %d)", policy.MaxTags)),
			mcp.Items(map[string]any{"type": "string"})),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("notes.status",
		mcp.WithDescription("Report the outcome of a queued note request."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Job id returned by notes.create")),
	), s.status)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Note Request Contract",
			mcp.WithResourceDescription("Fields, limits and allowed folders for notes.create."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	nr := producer.NoteRequest{
		Title:   title,
		Body:    body,
		Folder:  req.GetString("folder", ""),
		Account: req.GetString("account", ""),
		Confirm: req.GetBool("confirm", false),
		Tags:    stringList(req.GetArguments()["tags"]),
	}

	args := nr.Args()
	rec := audit.Record{
		Action:  "create",
		Title:   args.Title,
		Body:    args.Body,
		Account: args.Account,
		Folder:  args.Folder,
	}
	if denial := s.policy.CheckArgs(args); denial != nil {
		rec.Outcome, rec.Error = "denied", denial.Reason
		s.audit.Record(ctx, rec)
		return mcp.NewToolResultError(denial.Reason), nil
	}

	j, err := s.queue.Enqueue(ctx, nr)
	if err != nil {
		rec.Outcome, rec.Error = "error", "enqueue failed"
		s.audit.Record(ctx, rec)
		slog.Error("mcp enqueue failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError("Failed to enqueue note request"), nil
	}
	rec.Outcome, rec.JobID = "queued", j.ID
	s.audit.Record(ctx, rec)

	folder := j.Args.Folder
	if folder == "" {
		folder = notes.DefaultFolder
	}
	account := j.Args.Account
	if account == "" {
		account = notes.DefaultAccount
	}
	out, _ := json.Marshal(map[string]any{
		"status":  "queued",
		"job_id":  j.ID,
		"folder":  folder,
		"account": account,
	})
	return mcp.NewToolResultText(string(out)), nil
}

// status reports the latest result for a job, or whether it is still
// queued.
func (s *Server) status(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	files, err := s.log.Fetch(ctx)
	if err != nil {
		slog.Error("mcp status fetch failed", slog.String("error", err.Error()))
		return mcp.NewToolResultError("Failed to read the queue"), nil
	}

	var latest string
	for _, line := range remotelog.Lines(files[s.files.Results].Content) {
		var r job.Result
		if json.Unmarshal([]byte(line), &r) == nil && r.JobID == id {
			latest = line
		}
	}
	if latest != "" {
		return mcp.NewToolResultText(latest), nil
	}

	state := "unknown"
	for _, line := range remotelog.Lines(files[s.files.Queue].Content) {
		if j, err := job.Decode([]byte(line)); err == nil && j.ID == id {
			state = "pending"
			break
		}
	}
	out, _ := json.Marshal(map[string]string{"job_id": id, "status": state})
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     RequestContract(s.policy),
		},
	}, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
