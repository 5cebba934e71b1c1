// Package job defines the signed job envelope exchanged through the remote
// queue, its canonical encoding and its HMAC signature.
package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Tool discriminates the operation a job requests.
type Tool string

// ToolNotesCreate is the only supported operation.
const ToolNotesCreate Tool = "notes.create"

// Args is the payload of a notes.create job.
type Args struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Folder  string   `json:"folder,omitempty"`
	Account string   `json:"account,omitempty"`
	Confirm bool     `json:"confirm,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Job is one queued request. Jobs decoded from a queue line keep the raw
// decoded fields so that canonicalization covers exactly what the producer
// signed, including fields this version does not know about.
type Job struct {
	ID        string
	CreatedAt string
	Tool      Tool
	Args      Args
	Sig       string

	raw map[string]any
}

// Decode parses a single queue line. It fails only when the line is not a
// JSON object; field-level problems are left to validation.
func Decode(line []byte) (*Job, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("job: decode: %w", err)
	}
	if raw == nil {
		return nil, errors.New("job: decode: not an object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("job: decode: trailing data after object")
	}

	j := &Job{raw: raw}
	j.ID, _ = raw["job_id"].(string)
	j.CreatedAt, _ = raw["created_at"].(string)
	j.Sig, _ = raw["sig"].(string)
	if s, ok := raw["tool"].(string); ok {
		j.Tool = Tool(s)
	}
	if args, ok := raw["args"].(map[string]any); ok {
		j.Args = argsFromMap(args)
	}
	return j, nil
}

// Encode renders the job, signature included, as a single queue line
// without a trailing newline.
func Encode(j *Job) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, j.Fields()); err != nil {
		return nil, fmt.Errorf("job: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Fields returns a shallow copy of the job's top-level fields.
func (j *Job) Fields() map[string]any {
	if j.raw != nil {
		out := make(map[string]any, len(j.raw))
		for k, v := range j.raw {
			out[k] = v
		}
		return out
	}
	out := map[string]any{
		"job_id":     j.ID,
		"created_at": j.CreatedAt,
		"tool":       string(j.Tool),
		"args":       j.Args.fields(),
	}
	if j.Sig != "" {
		out["sig"] = j.Sig
	}
	return out
}

// Field returns a raw top-level field as decoded.
func (j *Job) Field(name string) (any, bool) {
	v, ok := j.Fields()[name]
	return v, ok
}

// Decoded reports whether the job came from Decode.
func (j *Job) Decoded() bool {
	return j.raw != nil
}

func (a Args) fields() map[string]any {
	out := map[string]any{
		"title": a.Title,
		"body":  a.Body,
	}
	if a.Folder != "" {
		out["folder"] = a.Folder
	}
	if a.Account != "" {
		out["account"] = a.Account
	}
	if a.Confirm {
		out["confirm"] = true
	}
	if len(a.Tags) > 0 {
		tags := make([]any, len(a.Tags))
		for i, t := range a.Tags {
			tags[i] = t
		}
		out["tags"] = tags
	}
	return out
}

func argsFromMap(m map[string]any) Args {
	var a Args
	a.Title, _ = m["title"].(string)
	a.Body, _ = m["body"].(string)
	a.Folder, _ = m["folder"].(string)
	a.Account, _ = m["account"].(string)
	a.Confirm, _ = m["confirm"].(bool)
	if raw, ok := m["tags"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				a.Tags = append(a.Tags, s)
			}
		}
	}
	return a
}
