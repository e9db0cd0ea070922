// Package config loads the copilot service configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/copilot/internal/jobs"
	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/ratelimit"
)

// Environment names accepted by server.environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the main configuration structure for copilot.
type Config struct {
	Server        ServerConfig            `yaml:"server"`
	Database      DatabaseConfig          `yaml:"database"`
	OpenAI        OpenAIConfig            `yaml:"openai"`
	Assistant     AssistantConfig         `yaml:"assistant"`
	Poller        PollerConfig            `yaml:"poller"`
	Twilio        TwilioConfig            `yaml:"twilio"`
	Contacts      ContactsConfig          `yaml:"contacts"`
	Moderation    ModerationConfig        `yaml:"moderation"`
	Followup      FollowupConfig          `yaml:"followup"`
	Jobs          jobs.QueueConfig        `yaml:"jobs"`
	RateLimit     ratelimit.Config        `yaml:"ratelimit"`
	Logging       observability.LogConfig `yaml:"logging"`
	Observability ObservabilityConfig     `yaml:"observability"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Production reports whether the server runs in production mode.
func (s ServerConfig) Production() bool {
	return strings.EqualFold(s.Environment, EnvProduction)
}

// DatabaseConfig configures the account and message store.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	// ConnectRetries is how many times startup pings the database before giving up.
	ConnectRetries int `yaml:"connect_retries"`
	// ConnectRetryDelay is the pause between startup pings.
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`
}

// OpenAIConfig configures the hosted assistant, moderation and embeddings client.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Organization string `yaml:"organization"`
}

// AssistantConfig configures the per-turn assistant definition.
type AssistantConfig struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model"`
	// Instructions overrides the built-in system instructions when set.
	Instructions string `yaml:"instructions"`
}

// PollerConfig configures run polling.
type PollerConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// CancelInterval is the fixed delay between polls while draining cancelled runs.
	CancelInterval time.Duration `yaml:"cancel_interval"`
}

// TwilioConfig configures SMS delivery and webhook verification.
type TwilioConfig struct {
	AccountSID          string `yaml:"account_sid"`
	AuthToken           string `yaml:"auth_token"`
	MessagingServiceSID string `yaml:"messaging_service_sid"`
	FromNumber          string `yaml:"from_number"`
	BaseURL             string `yaml:"base_url"`
	// WebhookPath is where Twilio posts inbound messages.
	WebhookPath string `yaml:"webhook_path"`
}

// ContactsConfig configures the contact search index.
type ContactsConfig struct {
	EmbeddingModel string `yaml:"embedding_model"`
	// CachePath is the sqlite file holding cached embeddings. ":memory:" keeps them in process.
	CachePath string `yaml:"cache_path"`
	TopK      int    `yaml:"top_k"`
}

// ModerationConfig configures the moderation gate.
type ModerationConfig struct {
	// Disabled skips classification entirely; messages stay unflagged.
	Disabled bool   `yaml:"disabled"`
	Model    string `yaml:"model"`
}

// FollowupConfig configures the inactivity follow-up sweep.
type FollowupConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression (seconds optional).
	Schedule string `yaml:"schedule"`
	// LocalHour is the account-local hour at which accounts are considered.
	LocalHour int `yaml:"local_hour"`
	// InactivityDays is how many days back the last user message must fall.
	InactivityDays  int    `yaml:"inactivity_days"`
	DefaultTimezone string `yaml:"default_timezone"`
	Concurrency     int    `yaml:"concurrency"`
	// RequestsPerSecond bounds how fast accounts are evaluated.
	RequestsPerSecond int  `yaml:"requests_per_second"`
	RunOnStart        bool `yaml:"run_on_start"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsPath string                    `yaml:"metrics_path"`
	Tracing     observability.TraceConfig `yaml:"tracing"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = EnvDevelopment
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}

	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 2 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}
	if cfg.Database.ConnectRetries == 0 {
		cfg.Database.ConnectRetries = 5
	}
	if cfg.Database.ConnectRetryDelay == 0 {
		cfg.Database.ConnectRetryDelay = 2 * time.Second
	}

	if cfg.Assistant.Name == "" {
		cfg.Assistant.Name = "Social Capital Assistant"
	}
	if cfg.Assistant.Model == "" {
		cfg.Assistant.Model = "gpt-4-turbo-preview"
	}

	if cfg.Poller.MaxAttempts == 0 {
		cfg.Poller.MaxAttempts = 20
	}
	if cfg.Poller.BaseDelay == 0 {
		cfg.Poller.BaseDelay = time.Second
	}
	if cfg.Poller.MaxDelay == 0 {
		cfg.Poller.MaxDelay = 10 * time.Second
	}
	if cfg.Poller.CancelInterval == 0 {
		cfg.Poller.CancelInterval = time.Second
	}

	if cfg.Twilio.WebhookPath == "" {
		cfg.Twilio.WebhookPath = "/sms"
	}

	if cfg.Contacts.EmbeddingModel == "" {
		cfg.Contacts.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Contacts.CachePath == "" {
		cfg.Contacts.CachePath = ":memory:"
	}
	if cfg.Contacts.TopK == 0 {
		cfg.Contacts.TopK = 3
	}

	if cfg.Moderation.Model == "" {
		cfg.Moderation.Model = "omni-moderation-latest"
	}

	if cfg.Followup.Schedule == "" {
		cfg.Followup.Schedule = "0 * * * *"
	}
	if cfg.Followup.LocalHour == 0 {
		cfg.Followup.LocalHour = 16
	}
	if cfg.Followup.InactivityDays == 0 {
		cfg.Followup.InactivityDays = 7
	}
	if cfg.Followup.DefaultTimezone == "" {
		cfg.Followup.DefaultTimezone = "America/Los_Angeles"
	}
	if cfg.Followup.Concurrency == 0 {
		cfg.Followup.Concurrency = 5
	}
	if cfg.Followup.RequestsPerSecond == 0 {
		cfg.Followup.RequestsPerSecond = 10
	}

	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 100
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = 15 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.MetricsPath == "" {
		cfg.Observability.MetricsPath = "/metrics"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "copilot"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Server.Environment) {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("server.environment must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Server.Environment)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Poller.MaxAttempts < 1 {
		return fmt.Errorf("poller.max_attempts must be at least 1")
	}
	if c.Poller.BaseDelay < 0 || c.Poller.MaxDelay < 0 || c.Poller.CancelInterval < 0 {
		return fmt.Errorf("poller delays must not be negative")
	}
	if c.Contacts.TopK < 1 {
		return fmt.Errorf("contacts.top_k must be at least 1")
	}
	if c.Followup.LocalHour < 0 || c.Followup.LocalHour > 23 {
		return fmt.Errorf("followup.local_hour must be between 0 and 23")
	}
	if c.Followup.InactivityDays < 1 {
		return fmt.Errorf("followup.inactivity_days must be at least 1")
	}
	if c.Server.Production() && c.Twilio.AuthToken == "" {
		return fmt.Errorf("twilio.auth_token is required in production to verify webhook signatures")
	}
	if !strings.HasPrefix(c.Twilio.WebhookPath, "/") {
		return fmt.Errorf("twilio.webhook_path must start with /")
	}
	return nil
}
