// Package validate decides whether a queued job may be executed.
package validate

import (
	"fmt"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notesq/internal/job"
)

// DefaultFolder is always allowed and is used when a job names no folder.
const DefaultFolder = "MCP Inbox"

// Accounts lists the accounts a job may target.
var Accounts = []string{"iCloud", "On My Mac"}

// Policy holds the deployment's business rules.
type Policy struct {
	MaxAge         time.Duration
	AllowedFolders []string
	RequireConfirm bool
	MaxTitleRunes  int
	MaxBodyRunes   int
	MaxFolderRunes int
	MaxTags        int
}

// DefaultPolicy returns the stock limits.
func DefaultPolicy() Policy {
	return Policy{
		MaxAge:         24 * time.Hour,
		AllowedFolders: []string{DefaultFolder},
		MaxTitleRunes:  200,
		MaxBodyRunes:   50000,
		MaxFolderRunes: 200,
		MaxTags:        20,
	}
}

// Folders returns the allowlist, DefaultFolder included.
func (p Policy) Folders() []string {
	out := make([]string, 0, len(p.AllowedFolders)+1)
	for _, f := range p.AllowedFolders {
		if f = strings.TrimSpace(f); f != "" && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	if !slices.Contains(out, DefaultFolder) {
		out = append(out, DefaultFolder)
	}
	return out
}

// Denial is a terminal policy rejection. Reason is safe to publish.
type Denial struct {
	Code   string
	Reason string
}

func (d *Denial) Error() string { return d.Code + ": " + d.Reason }

func deny(code, format string, args ...any) *Denial {
	return &Denial{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// CheckArgs applies the content rules to a request: title, body, tags,
// folder allowlist, confirmation and account. It is shared by the worker
// and the ingress front-end.
func (p Policy) CheckArgs(a job.Args) *Denial {
	if err := validation.Validate(a.Title,
		validation.RuneLength(0, p.MaxTitleRunes),
		validation.By(noNUL),
	); err != nil {
		if strings.ContainsRune(a.Title, 0) {
			return deny(job.CodeValidation, "Title contains null bytes")
		}
		return deny(job.CodeValidation, "Title exceeds maximum length of %d characters", p.MaxTitleRunes)
	}
	if err := validation.Validate(a.Body,
		validation.RuneLength(0, p.MaxBodyRunes),
		validation.By(noNUL),
	); err != nil {
		if strings.ContainsRune(a.Body, 0) {
			return deny(job.CodeValidation, "Body contains null bytes")
		}
		return deny(job.CodeValidation, "Body exceeds maximum length of %d characters", p.MaxBodyRunes)
	}
	if err := validation.Validate(a.Tags, validation.Length(0, p.MaxTags)); err != nil {
		return deny(job.CodeValidation, "Too many tags: max %d", p.MaxTags)
	}

	folder := a.Folder
	if folder == "" {
		folder = DefaultFolder
	}
	if err := validation.Validate(folder, validation.In(toAny(p.Folders())...)); err != nil {
		return deny(job.CodeFolderNotAllowed, "Folder '%s' is not in the allowlist", folder)
	}

	if p.RequireConfirm && !a.Confirm {
		return deny(job.CodeConfirmationRequired, "Confirmation required (confirm=true) but not provided")
	}

	if err := validation.Validate(a.Account, validation.In(toAny(Accounts)...)); err != nil {
		return deny(job.CodeInvalidAccount, "Invalid account: %s. Must be 'iCloud' or 'On My Mac'", a.Account)
	}
	return nil
}

func noNUL(v any) error {
	if s, _ := v.(string); strings.ContainsRune(s, 0) {
		return validation.NewError("validation_nul", "contains null bytes")
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
