package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/notesq/internal/notes"
	"github.com/starford/notesq/internal/validate"
)

// RequestContract describes what notes.create accepts under policy.
func RequestContract(policy validate.Policy) string {
	var b strings.Builder
	b.WriteString("# Note Request Contract\n\n")
	b.WriteString("Requests are signed, queued and executed by a trusted worker. ")
	b.WriteString("A request that violates any rule below is denied and never retried.\n\n")

	b.WriteString("## Fields\n\n")
	fmt.Fprintf(&b, "- `title` (required): at most %d characters, no null bytes.\n", policy.MaxTitleRunes)
	fmt.Fprintf(&b, "- `body` (required): at most %d characters, no null bytes. ", policy.MaxBodyRunes)
	b.WriteString("Literal `\\n` sequences become line breaks; trailing whitespace is trimmed.\n")
	fmt.Fprintf(&b, "- `folder`: one of the allowed folders below (default `%s`).\n", notes.DefaultFolder)
	fmt.Fprintf(&b, "- `account`: `%s` (default `%s`).\n", strings.Join(validate.Accounts, "` or `"), notes.DefaultAccount)
	if policy.RequireConfirm {
		b.WriteString("- `confirm`: must be `true`; this deployment requires confirmation.\n")
	} else {
		b.WriteString("- `confirm`: optional.\n")
	}
	fmt.Fprintf(&b, "- `tags`: at most %d; each is appended to the body as `#tag` unless already present.\n\n", policy.MaxTags)

	b.WriteString("## Allowed folders\n\n")
	for _, f := range policy.Folders() {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\n## Lifecycle\n\n")
	fmt.Fprintf(&b, "Jobs older than %s when the worker reaches them are denied as expired. ", policy.MaxAge)
	b.WriteString("Each job id is executed at most once; resubmissions report `skipped_duplicate`.\n")
	return b.String()
}
