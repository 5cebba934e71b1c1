package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notesq/internal/validate"
	"github.com/starford/notesq/internal/worker"
)

// Queue backends.
const (
	BackendGist = "gist"
	BackendS3   = "s3"
	BackendDir  = "dir"
)

// Sink modes.
const (
	SinkOSAScript = "osascript"
	SinkBridge    = "bridge"
	SinkLog       = "log"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Queue    QueueConfig       `yaml:"queue"`
	Worker   WorkerConfig      `yaml:"worker"`
	Security SecurityConfig    `yaml:"security"`
	Ledger   LedgerConfig      `yaml:"ledger"`
	Sink     SinkConfig        `yaml:"sink"`
	Audit    AuditConfig       `yaml:"audit"`
	Ingress  IngressConfig     `yaml:"ingress"`
	Bridge   BridgeConfig      `yaml:"bridge"`
}

// Validate validates the configuration. Credentials are checked by the
// commands that need them, see RequireSigning and RequireCredentials.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Queue, &c.Worker, &c.Security, &c.Ledger, &c.Sink, &c.Ingress, &c.Bridge,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RequireSigning fails when no signing secret is configured.
func (c *Config) RequireSigning() error {
	if strings.TrimSpace(c.Security.HMACSecret) == "" {
		return errors.New("security: hmac_secret is required")
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// HTTP is the worker status server. Port 0 disables it.
	HTTP HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Enabled reports whether a port is configured.
func (c *HTTPConfig) Enabled() bool {
	return c.Port > 0
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// QueueConfig selects the remote store holding the queue and results files.
type QueueConfig struct {
	Backend     string     `yaml:"backend"`
	QueueFile   string     `yaml:"queue_file"`
	ResultsFile string     `yaml:"results_file"`
	Gist        GistConfig `yaml:"gist"`
	S3          S3Config   `yaml:"s3"`
	Dir         DirConfig  `yaml:"dir"`
}

// Validate validates the queue configuration.
func (c *QueueConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendGist, BackendS3, BackendDir)),
		validation.Field(&c.QueueFile, validation.Required, validation.By(flatName)),
		validation.Field(&c.ResultsFile, validation.Required, validation.By(flatName),
			validation.NotIn(c.QueueFile).Error("must differ from queue_file")),
	)
}

// RequireCredentials fails when the selected backend is not fully
// configured.
func (c *QueueConfig) RequireCredentials() error {
	switch c.Backend {
	case BackendGist:
		return validation.ValidateStruct(&c.Gist,
			validation.Field(&c.Gist.ID, validation.Required),
			validation.Field(&c.Gist.Token, validation.Required),
		)
	case BackendS3:
		return validation.ValidateStruct(&c.S3,
			validation.Field(&c.S3.Bucket, validation.Required),
		)
	case BackendDir:
		return validation.ValidateStruct(&c.Dir,
			validation.Field(&c.Dir.Path, validation.Required),
		)
	}
	return fmt.Errorf("queue: unknown backend %q", c.Backend)
}

func flatName(v any) error {
	s, _ := v.(string)
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return errors.New("must be a plain file name")
	}
	return nil
}

// GistConfig addresses a GitHub gist.
type GistConfig struct {
	ID      string `yaml:"id"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`
}

// S3Config addresses an S3 bucket or compatible store.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// DirConfig points at a shared directory.
type DirConfig struct {
	Path string `yaml:"path"`
	// Watch wakes the worker as soon as a file changes.
	Watch bool `yaml:"watch"`
}

// WorkerConfig holds polling and execution settings.
type WorkerConfig struct {
	PollInterval     time.Duration       `yaml:"poll_interval"`
	OffHoursInterval time.Duration       `yaml:"off_hours_interval"`
	MaxJobAge        time.Duration       `yaml:"max_job_age"`
	SinkTimeout      time.Duration       `yaml:"sink_timeout"`
	BusinessHours    BusinessHoursConfig `yaml:"business_hours"`
}

// Validate validates the worker configuration.
func (c *WorkerConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.PollInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.OffHoursInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxJobAge, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.SinkTimeout, validation.Required, validation.Min(time.Second)),
	); err != nil {
		return err
	}
	_, err := c.BusinessHours.Hours()
	return err
}

// BusinessHoursConfig restricts normal-rate polling to a weekly window.
type BusinessHoursConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Timezone  string   `yaml:"timezone"`
	Weekdays  []string `yaml:"weekdays"`
	StartHour int      `yaml:"start_hour"`
	EndHour   int      `yaml:"end_hour"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Hours converts the configuration into the worker's gate.
func (c BusinessHoursConfig) Hours() (worker.BusinessHours, error) {
	h := worker.DefaultBusinessHours()
	h.Enabled = c.Enabled
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return h, fmt.Errorf("worker: business_hours: timezone: %w", err)
		}
		h.Location = loc
	}
	if len(c.Weekdays) > 0 {
		h.Weekdays = h.Weekdays[:0:0]
		for _, d := range c.Weekdays {
			key := strings.ToLower(strings.TrimSpace(d))
			if len(key) > 3 {
				key = key[:3]
			}
			wd, ok := weekdays[key]
			if !ok {
				return h, fmt.Errorf("worker: business_hours: unknown weekday %q", d)
			}
			h.Weekdays = append(h.Weekdays, wd)
		}
	}
	if c.StartHour != 0 || c.EndHour != 0 {
		h.StartHour, h.EndHour = c.StartHour, c.EndHour
	}
	if h.StartHour < 0 || h.EndHour > 24 || h.StartHour >= h.EndHour {
		return h, fmt.Errorf("worker: business_hours: invalid window %d-%d", h.StartHour, h.EndHour)
	}
	return h, nil
}

// SecurityConfig holds signing and policy settings.
type SecurityConfig struct {
	HMACSecret     string          `yaml:"hmac_secret"`
	AllowedFolders []string        `yaml:"allowed_folders"`
	RequireConfirm bool            `yaml:"require_confirm"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// Validate validates the security configuration.
func (c *SecurityConfig) Validate() error {
	return c.RateLimit.Validate()
}

// Policy builds the validation policy.
func (c *SecurityConfig) Policy(maxAge time.Duration) validate.Policy {
	p := validate.DefaultPolicy()
	p.MaxAge = maxAge
	p.AllowedFolders = c.AllowedFolders
	p.RequireConfirm = c.RequireConfirm
	return p
}

// RateLimitConfig is a sliding-window limit.
type RateLimitConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// Validate validates the rate limit.
func (c *RateLimitConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Max, validation.Required, validation.Min(1)),
		validation.Field(&c.Window, validation.Required, validation.Min(time.Second)),
	)
}

// LedgerConfig holds the idempotency database settings.
type LedgerConfig struct {
	Path    string `yaml:"path"`
	MaxRows int    `yaml:"max_rows"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.MaxRows, validation.Min(0)),
	)
}

// SinkConfig selects how the worker creates notes.
type SinkConfig struct {
	Mode          string `yaml:"mode"`
	OSAScriptPath string `yaml:"osascript_path"`
	BridgeURL     string `yaml:"bridge_url"`
	BridgeToken   string `yaml:"bridge_token"`
}

// Validate validates the sink configuration.
func (c *SinkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(SinkOSAScript, SinkBridge, SinkLog)),
		validation.Field(&c.BridgeURL, validation.When(c.Mode == SinkBridge, validation.Required)),
		validation.Field(&c.BridgeToken, validation.When(c.Mode == SinkBridge, validation.Required)),
	)
}

// AuditConfig holds the audit log location. An empty path disables it.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// IngressConfig holds the enqueue API settings.
type IngressConfig struct {
	HTTP HTTPConfig `yaml:"http"`
	// Key, when set, must be sent in X-Notes-MCP-Key.
	Key       string          `yaml:"key"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// RedisAddr shares the rate limit between replicas when set.
	RedisAddr string `yaml:"redis_addr"`
}

// Validate validates the ingress configuration.
func (c *IngressConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return c.RateLimit.Validate()
}

// BridgeConfig holds the host bridge settings.
type BridgeConfig struct {
	HTTP  HTTPConfig `yaml:"http"`
	Token string     `yaml:"token"`
}

// Validate validates the bridge configuration.
func (c *BridgeConfig) Validate() error {
	return c.HTTP.Validate()
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Queue: QueueConfig{
			Backend:     BackendGist,
			QueueFile:   "queue.jsonl",
			ResultsFile: "results.jsonl",
		},
		Worker: WorkerConfig{
			PollInterval:     15 * time.Second,
			OffHoursInterval: 5 * time.Minute,
			MaxJobAge:        24 * time.Hour,
			SinkTimeout:      30 * time.Second,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{Max: 10, Window: time.Minute},
		},
		Ledger: LedgerConfig{
			Path:    "./notesq-ledger.db",
			MaxRows: 5000,
		},
		Sink: SinkConfig{
			Mode: SinkOSAScript,
		},
		Ingress: IngressConfig{
			HTTP:      HTTPConfig{Port: 8443},
			RateLimit: RateLimitConfig{Max: 30, Window: time.Minute},
		},
		Bridge: BridgeConfig{
			HTTP: HTTPConfig{Port: 8444},
		},
	}
}
