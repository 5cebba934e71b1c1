package notes

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxTags caps how many tags a request keeps.
const MaxTags = 20

var hashtagRe = regexp.MustCompile(`(?:^|\s)#([^\s#]+)`)

// NormalizeBody makes bodies render predictably: literal "\n" sequences
// become newlines when the body has no real ones, line endings become
// LF, trailing whitespace is stripped per line and runs of trailing blank
// lines collapse to a single newline.
func NormalizeBody(body string) string {
	if body == "" {
		return body
	}
	if !strings.ContainsAny(body, "\r\n") && strings.Contains(body, `\n`) {
		body = strings.ReplaceAll(body, `\n`, "\n")
	}
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	out := strings.Join(lines, "\n")
	for strings.HasSuffix(out, "\n\n") {
		out = out[:len(out)-1]
	}
	return out
}

// CleanTags trims tags, drops empty ones and keeps at most MaxTags.
func CleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

// AppendHashtags adds "#tag" markers to the end of body so notes can be
// found by tag search. Tags already present as hashtags are skipped and
// inner whitespace becomes '_'.
func AppendHashtags(body string, tags []string) string {
	present := map[string]bool{}
	for _, m := range hashtagRe.FindAllStringSubmatch(body, -1) {
		present[strings.ToLower(m[1])] = true
	}

	var marks []string
	for _, t := range CleanTags(tags) {
		t = strings.Join(strings.Fields(strings.TrimLeft(t, "#")), "_")
		if t == "" || present[strings.ToLower(t)] {
			continue
		}
		present[strings.ToLower(t)] = true
		marks = append(marks, "#"+t)
	}
	if len(marks) == 0 {
		return body
	}
	if body == "" {
		return strings.Join(marks, " ")
	}
	return strings.TrimRight(body, "\n") + "\n\n" + strings.Join(marks, " ")
}
