package validate

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/starford/notesq/internal/checksum"
	"github.com/starford/notesq/internal/job"
	"github.com/starford/notesq/internal/ratelimit"
)

// Pipeline runs schema, age, signature and business-rule checks in that
// order, stopping at the first failure.
type Pipeline struct {
	policy  Policy
	secret  string
	limiter ratelimit.Limiter
	rateKey string
}

// NewPipeline creates a pipeline. The limiter is owned by the caller so
// tests and replicas can choose their own.
func NewPipeline(policy Policy, secret string, limiter ratelimit.Limiter) *Pipeline {
	// Jobs are authenticated by the shared key, so the key identifies
	// the caller. Only a digest is kept as the limiter key.
	rateKey := "worker"
	if secret != "" {
		rateKey = "key:" + checksum.String(secret)[:16]
	}
	return &Pipeline{
		policy:  policy,
		secret:  secret,
		limiter: limiter,
		rateKey: rateKey,
	}
}

// Policy returns the configured policy.
func (p *Pipeline) Policy() Policy { return p.policy }

// Check returns nil when j may be executed, or the denial. A non-nil error
// means the check itself could not run (limiter unavailable) and the job
// should be retried later.
func (p *Pipeline) Check(ctx context.Context, j *job.Job, now time.Time) (*Denial, error) {
	if d := p.checkSchema(j); d != nil {
		return d, nil
	}
	if d := p.checkAge(j, now); d != nil {
		return d, nil
	}
	if d := p.checkSignature(j); d != nil {
		return d, nil
	}

	ok, err := p.limiter.Allow(ctx, p.rateKey)
	if err != nil {
		return nil, fmt.Errorf("validate: rate limit: %w", err)
	}
	if !ok {
		return deny(job.CodeRateLimit, "Rate limit exceeded"), nil
	}
	return p.policy.CheckArgs(j.Args), nil
}

func (p *Pipeline) checkSchema(j *job.Job) *Denial {
	fields := j.Fields()
	for _, name := range []string{"job_id", "created_at", "tool", "args", "sig"} {
		if _, ok := fields[name]; !ok {
			return deny(job.CodeInvalidSchema, "Missing required field: %s", name)
		}
	}
	for _, name := range []string{"job_id", "created_at", "tool", "sig"} {
		if _, ok := fields[name].(string); !ok {
			return deny(job.CodeInvalidSchema, "Field %s must be a string", name)
		}
	}
	if j.ID == "" {
		return deny(job.CodeInvalidSchema, "Field job_id must not be empty")
	}
	if j.Tool != job.ToolNotesCreate {
		return deny(job.CodeInvalidSchema, "Unsupported tool: %s", j.Tool)
	}

	args, ok := fields["args"].(map[string]any)
	if !ok {
		return deny(job.CodeInvalidSchema, "Field args must be an object")
	}
	title, hasTitle := args["title"]
	body, hasBody := args["body"]
	if !hasTitle || !hasBody {
		return deny(job.CodeInvalidSchema, "Missing required args: title and body")
	}
	if _, ok := title.(string); !ok {
		return deny(job.CodeInvalidSchema, "Title must be a string")
	}
	if _, ok := body.(string); !ok {
		return deny(job.CodeInvalidSchema, "Body must be a string")
	}
	if v, ok := args["folder"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return deny(job.CodeInvalidSchema, "Folder must be a string")
		}
		if utf8.RuneCountInString(s) > p.policy.MaxFolderRunes {
			return deny(job.CodeInvalidSchema, "Folder exceeds maximum length of %d characters", p.policy.MaxFolderRunes)
		}
	}
	if v, ok := args["account"]; ok {
		if _, isStr := v.(string); !isStr {
			return deny(job.CodeInvalidSchema, "Account must be a string")
		}
	}
	if v, ok := args["confirm"]; ok {
		if _, isBool := v.(bool); !isBool {
			return deny(job.CodeInvalidSchema, "Confirm must be a boolean")
		}
	}
	if v, ok := args["tags"]; ok {
		if !isStringList(v) {
			return deny(job.CodeInvalidSchema, "Tags must be a list of strings")
		}
	}
	return nil
}

func isStringList(v any) bool {
	switch list := v.(type) {
	case []string:
		return true
	case []any:
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

func (p *Pipeline) checkAge(j *job.Job, now time.Time) *Denial {
	created, err := job.ParseTime(j.CreatedAt)
	if err != nil {
		return deny(job.CodeExpired, "Invalid created_at timestamp")
	}
	age := now.Sub(created)
	if age < 0 {
		return deny(job.CodeExpired, "Job created_at is in the future")
	}
	if age > p.policy.MaxAge {
		return deny(job.CodeExpired, "Job expired: age %s exceeds maximum %s",
			age.Truncate(time.Second), p.policy.MaxAge)
	}
	return nil
}

func (p *Pipeline) checkSignature(j *job.Job) *Denial {
	err := job.Verify(j, p.secret)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, job.ErrMissingSignature):
		return deny(job.CodeInvalidSignature, "Missing signature field")
	case errors.Is(err, job.ErrSecretNotConfigured):
		return deny(job.CodeInvalidSignature, "Signing secret not configured")
	default:
		return deny(job.CodeInvalidSignature, "Invalid HMAC signature")
	}
}
