package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/notesq/internal"
	"github.com/starford/notesq/internal/producer"
	pkgconfig "github.com/starford/notesq/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	root := cmd.Root()
	configPath := root.String("config")

	cfg := internal.NewDefaultConfig()
	if root.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}
	if _, err := pkgconfig.LoadIfExists(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serveAction(run func(context.Context, ...internal.Option) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := run(ctx, internal.WithConfig(cfg)); err != nil {
			return fmt.Errorf("%s: %w", cmd.Name, err)
		}
		return nil
	}
}

var noteFlags = []cli.Flag{
	&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Note title", Required: true},
	&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Usage: "Note body; '-' or empty reads stdin"},
	&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "Target folder"},
	&cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "Target account (iCloud or On My Mac)"},
	&cli.BoolFlag{Name: "confirm", Usage: "Set the confirmation flag"},
	&cli.StringSliceFlag{Name: "tag", Usage: "Tag to append as #hashtag (repeatable)"},
}

func noteRequest(cmd *cli.Command, stdin io.Reader) (producer.NoteRequest, error) {
	body := cmd.String("body")
	if body == "" || body == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return producer.NoteRequest{}, fmt.Errorf("read body from stdin: %w", err)
		}
		body = strings.TrimRight(string(data), "\n")
	}
	return producer.NoteRequest{
		Title:   cmd.String("title"),
		Body:    body,
		Folder:  cmd.String("folder"),
		Account: cmd.String("account"),
		Confirm: cmd.Bool("confirm"),
		Tags:    cmd.StringSlice("tag"),
	}, nil
}

func signAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	req, err := noteRequest(cmd, os.Stdin)
	if err != nil {
		return err
	}
	line, err := internal.SignNote(req, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, line)
	return err
}

func enqueueAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	req, err := noteRequest(cmd, os.Stdin)
	if err != nil {
		return err
	}
	id, err := internal.EnqueueNote(ctx, req, internal.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "queued %s\n", id)
	return err
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, n, err := internal.ExportNotes(ctx, internal.ExportOptions{
		Format:      cmd.String("format"),
		Output:      cmd.String("output"),
		Since:       time.Duration(cmd.Int("since-days")) * 24 * time.Hour,
		MaxNotes:    int(cmd.Int("max-notes")),
		IncludeBody: cmd.Bool("include-body"),
	}, internal.WithConfig(cfg))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.Root().Writer, "exported %d notes to %s\n", n, path)
	return err
}

func checkAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	failed := 0
	for _, item := range internal.Check(cfg) {
		mark := "ok  "
		if !item.OK {
			mark = "FAIL"
			failed++
		}
		fmt.Fprintf(cmd.Root().Writer, "[%s] %-16s %s\n", mark, item.Name, item.Detail)
	}
	if failed > 0 {
		return fmt.Errorf("check: %d item(s) failed", failed)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "notesq",
		Usage: "Signed note-creation job queue over a shared remote log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "worker",
				Usage:  "Poll the queue, execute jobs and report results",
				Action: serveAction(internal.RunWorker),
			},
			{
				Name:   "ingress",
				Usage:  "Serve the HTTP API that enqueues note requests",
				Action: serveAction(internal.RunIngress),
			},
			{
				Name:   "bridge",
				Usage:  "Serve the host bridge that creates notes for containerized workers",
				Action: serveAction(internal.RunBridge),
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdio",
				Action: serveAction(internal.RunMCP),
			},
			{
				Name:   "sign",
				Usage:  "Print a signed job line without enqueueing it",
				Flags:  noteFlags,
				Action: signAction,
			},
			{
				Name:   "enqueue",
				Usage:  "Sign a note request and append it to the queue",
				Flags:  noteFlags,
				Action: enqueueAction,
			},
			{
				Name:  "export",
				Usage: "Copy notes from the allowed folders into a local JSONL file or SQLite database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "jsonl", Usage: "Output format: jsonl or sqlite"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output path (default .data/notes_export.jsonl or .db)"},
					&cli.IntFlag{Name: "since-days", Value: 30, Usage: "Only notes modified within N days; 0 exports all"},
					&cli.IntFlag{Name: "max-notes", Value: 500, Usage: "Maximum number of notes, most recent first"},
					&cli.BoolFlag{Name: "include-body", Usage: "Include note bodies", Sources: cli.EnvVars("NOTES_MCP_EXPORT_INCLUDE_BODY")},
				},
				Action: exportAction,
			},
			{
				Name:   "check",
				Usage:  "Report configuration readiness with secrets masked",
				Action: checkAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
