package notes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ASCII unit and record separators delimit fields and notes.
const (
	unitSep   = "\x1f"
	recordSep = "\x1e"
)

// readScript lists notes in the folders named in argv. Dates are emitted
// as second offsets from the script's own clock.
const readScript = `on run argv
	set US to character id 31
	set RS to character id 30
	set nowDate to current date
	set outputText to ""
	tell application "Notes"
		repeat with accountName in {"iCloud", "On My Mac"}
			try
				set targetAccount to account (accountName as text)
				repeat with targetFolder in folders of targetAccount
					set folderName to name of targetFolder
					if argv contains folderName then
						repeat with noteItem in notes of targetFolder
							try
								set createdOffset to ((creation date of noteItem) - nowDate) as integer
								set modifiedOffset to ((modification date of noteItem) - nowDate) as integer
								set outputText to outputText & (id of noteItem) & US & (accountName as text) & US & folderName & US & (name of noteItem) & US & (body of noteItem) & US & createdOffset & US & modifiedOffset & RS
							end try
						end repeat
					end if
				end repeat
			end try
		end repeat
	end tell
	return outputText
end run`

// Stored is a note read back from Apple Notes.
type Stored struct {
	ID         string
	Title      string
	Body       string
	Folder     string
	Account    string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Reader lists existing notes.
type Reader interface {
	Read(ctx context.Context, folders []string) ([]Stored, error)
}

// OSAScriptReader reads notes from Apple Notes by running osascript.
type OSAScriptReader struct {
	// Path is the osascript binary; empty means look it up on PATH.
	Path string

	now func() time.Time
}

// Read returns the notes in folders across both accounts. Records that
// cannot be parsed are skipped.
func (o *OSAScriptReader) Read(ctx context.Context, folders []string) ([]Stored, error) {
	if len(folders) == 0 {
		return nil, nil
	}
	bin := o.Path
	if bin == "" {
		bin = "osascript"
	}
	now := time.Now
	if o.now != nil {
		now = o.now
	}

	args := append([]string{"-e", readScript}, folders...)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = []string{"PATH=/usr/bin:/bin:/usr/local/bin"}
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := now()
	out, err := cmd.Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, errors.New("notes: reading notes timed out")
		}
		return nil, fmt.Errorf("notes: read cancelled: %w", ctxErr)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("notes: AppleScript error: %s", msg)
	}
	return parseStored(string(out), start), nil
}

func parseStored(out string, base time.Time) []Stored {
	var notes []Stored
	for _, rec := range strings.Split(strings.TrimRight(out, "\r\n"), recordSep) {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		f := strings.Split(rec, unitSep)
		if len(f) != 7 {
			continue
		}
		created, err1 := strconv.ParseInt(strings.TrimSpace(f[5]), 10, 64)
		modified, err2 := strconv.ParseInt(strings.TrimSpace(f[6]), 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		notes = append(notes, Stored{
			ID:         strings.TrimLeft(f[0], "\r\n"),
			Account:    f[1],
			Folder:     f[2],
			Title:      f[3],
			Body:       f[4],
			CreatedAt:  base.Add(time.Duration(created) * time.Second).UTC(),
			ModifiedAt: base.Add(time.Duration(modified) * time.Second).UTC(),
		})
	}
	return notes
}

// TitleTags returns the tag carried by a "[TAG] title" prefix, if any.
func TitleTags(title string) []string {
	if !strings.HasPrefix(title, "[") {
		return nil
	}
	end := strings.IndexByte(title, ']')
	if end < 2 {
		return nil
	}
	return []string{title[1:end]}
}
