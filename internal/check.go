package internal

import (
	"os/exec"
	"strings"
	"time"

	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/producer"
)

// CheckItem is one line of the readiness report.
type CheckItem struct {
	Name   string
	OK     bool
	Detail string
}

// Check reports whether cfg is ready for each command without contacting
// remote services. Secrets are masked.
func Check(cfg *Config) []CheckItem {
	var items []CheckItem
	add := func(name string, err error, detail string) {
		item := CheckItem{Name: name, OK: err == nil, Detail: detail}
		if err != nil {
			item.Detail = err.Error()
		}
		items = append(items, item)
	}

	add("config", cfg.Validate(), "valid")
	add("signing secret", cfg.RequireSigning(), Mask(cfg.Security.HMACSecret))

	if err := cfg.RequireSigning(); err == nil {
		p := producer.New(nil, cfg.Queue.QueueFile, cfg.Security.HMACSecret, nil)
		j, err := p.Build(producer.NoteRequest{Title: "check", Body: "check"}, time.Now())
		if err == nil {
			err = job.Verify(j, cfg.Security.HMACSecret)
		}
		add("sign round trip", err, "ok")
	}

	queueDetail := cfg.Queue.Backend
	switch cfg.Queue.Backend {
	case BackendGist:
		queueDetail += " " + cfg.Queue.Gist.ID + " token " + Mask(cfg.Queue.Gist.Token)
	case BackendS3:
		queueDetail += " s3://" + cfg.Queue.S3.Bucket + "/" + cfg.Queue.S3.Prefix
	case BackendDir:
		queueDetail += " " + cfg.Queue.Dir.Path
	}
	add("queue backend", cfg.Queue.RequireCredentials(), queueDetail)

	switch cfg.Sink.Mode {
	case SinkOSAScript:
		path := cfg.Sink.OSAScriptPath
		if path == "" {
			path = "osascript"
		}
		found, err := exec.LookPath(path)
		add("sink osascript", err, found)
	case SinkBridge:
		add("sink bridge", nil, cfg.Sink.BridgeURL+" token "+Mask(cfg.Sink.BridgeToken))
	default:
		add("sink "+cfg.Sink.Mode, nil, "dry run")
	}

	folders := cfg.Security.Policy(cfg.Worker.MaxJobAge).Folders()
	add("allowed folders", nil, strings.Join(folders, ", "))
	return items
}

// Mask hides all but the edges of a secret.
func Mask(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}
