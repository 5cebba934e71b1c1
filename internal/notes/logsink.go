package notes

import (
	"context"
	"log/slog"
	"time"
)

// LogSink records note requests in the log and reports success. It backs
// dry runs.
type LogSink struct {
	Logger *slog.Logger
	now    func() time.Time
}

// Create implements Sink.
func (l *LogSink) Create(_ context.Context, n Note) (Created, error) {
	n = n.withDefaults()
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	l.Logger.Info("dry-run: note not created",
		slog.Int("title_length", len([]rune(n.Title))),
		slog.Int("body_length", len([]rune(n.Body))),
		slog.String("folder", n.Folder),
		slog.String("account", n.Account),
		slog.Int("tags", len(n.Tags)),
	)
	return Created{
		Account:   n.Account,
		Folder:    n.Folder,
		Reference: "dry-run:" + now().UTC().Format(time.RFC3339Nano),
	}, nil
}
