package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the terminal outcome of a job.
type Status string

const (
	StatusCreated          Status = "created"
	StatusDenied           Status = "denied"
	StatusError            Status = "error"
	StatusSkippedDuplicate Status = "skipped_duplicate"
)

// Machine-readable result codes.
const (
	CodeInvalidSchema        = "INVALID_SCHEMA"
	CodeExpired              = "JOB_EXPIRED"
	CodeInvalidSignature     = "INVALID_SIGNATURE"
	CodeRateLimit            = "RATE_LIMIT"
	CodeValidation           = "VALIDATION_ERROR"
	CodeFolderNotAllowed     = "FOLDER_NOT_ALLOWED"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeInvalidAccount       = "INVALID_ACCOUNT"
	CodeExecution            = "EXECUTION_ERROR"
	CodeDuplicate            = "DUPLICATE"
)

// UnknownID keys results for lines that carry no usable job_id.
const UnknownID = "unknown"

// TimeLayout is the timestamp format written by producers and the worker.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Location is where the sink placed a note.
type Location struct {
	Account string `json:"account"`
	Folder  string `json:"folder"`
}

// Result is one line of the results log.
type Result struct {
	JobID       string    `json:"job_id"`
	ProcessedAt string    `json:"processed_at"`
	Status      Status    `json:"status"`
	Code        string    `json:"code,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Reference   string    `json:"reference,omitempty"`
}

// Line renders the result as a results-log line.
func (r Result) Line() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("job: encode result: %w", err)
	}
	return string(data), nil
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime accepts RFC 3339 timestamps and zone-less ISO timestamps,
// which are taken to be UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("job: unparseable timestamp %q", s)
}
