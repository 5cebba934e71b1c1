package notes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// createScript receives its inputs through argv, so note content is
// never spliced into script source.
const createScript = `on run argv
	set titleText to item 1 of argv
	set bodyText to item 2 of argv
	set folderName to item 3 of argv
	set accountName to item 4 of argv
	tell application "Notes"
		if accountName is "On My Mac" then
			set targetAccount to account "On My Mac"
		else
			set targetAccount to account "iCloud"
		end if
		try
			set targetFolder to folder folderName of targetAccount
		on error
			set targetFolder to make new folder at targetAccount with properties {name:folderName}
		end try
		set newNote to make new note at targetFolder with properties {name:titleText, body:bodyText}
		return "SUCCESS|" & accountName & "|" & folderName & "|" & (id of newNote)
	end tell
end run`

// OSAScript creates notes in Apple Notes by running osascript.
type OSAScript struct {
	// Path is the osascript binary; empty means look it up on PATH.
	Path string
}

// Create implements Sink. The process is killed when ctx expires.
func (o *OSAScript) Create(ctx context.Context, n Note) (Created, error) {
	n = n.withDefaults()
	body := AppendHashtags(n.Body, n.Tags)

	bin := o.Path
	if bin == "" {
		bin = "osascript"
	}
	cmd := exec.CommandContext(ctx, bin, "-e", createScript, n.Title, body, n.Folder, n.Account)
	cmd.Env = []string{"PATH=/usr/bin:/bin:/usr/local/bin"}
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return Created{}, errors.New("notes: AppleScript execution timed out")
		}
		return Created{}, fmt.Errorf("notes: AppleScript cancelled: %w", ctxErr)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		if msg == "" {
			msg = err.Error()
		}
		return Created{}, fmt.Errorf("notes: AppleScript error: %s", msg)
	}
	return parseOutput(string(out))
}

// parseOutput reads the SUCCESS|account|folder|reference line.
func parseOutput(out string) (Created, error) {
	out = strings.TrimSpace(out)
	if rest, ok := strings.CutPrefix(out, "SUCCESS|"); ok {
		parts := strings.SplitN(rest, "|", 3)
		if len(parts) == 3 {
			return Created{Account: parts[0], Folder: parts[1], Reference: parts[2]}, nil
		}
	}
	return Created{}, fmt.Errorf("notes: unexpected AppleScript output: %q", truncate(out, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
