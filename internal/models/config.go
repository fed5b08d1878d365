package models

// Config holds the application configuration
type Config struct {
	Signal     SignalConfig     `json:"signal" yaml:"signal"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Collector  CollectorConfig  `json:"collector" yaml:"collector"`
	Retention  RetentionConfig  `json:"retention" yaml:"retention"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Summarizer SummarizerConfig `json:"summarizer" yaml:"summarizer"`
	Server     ServerConfig     `json:"server" yaml:"server"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Retry      RetryConfig      `json:"retry" yaml:"retry"`
	LogLevel   string           `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=trace debug info warn warning error"`
	DryRun     bool             `json:"dry_run" yaml:"dry_run"`
}

// SignalConfig holds signal-cli-rest-api settings
type SignalConfig struct {
	RPCURL           string `json:"rpc_url" yaml:"rpc_url" validate:"required,url"`
	PhoneNumber      string `json:"phone_number" yaml:"phone_number" validate:"required,e164"`
	AuthToken        string `json:"auth_token" yaml:"auth_token"`
	HTTPTimeoutSec   int    `json:"http_timeout_sec" yaml:"http_timeout_sec" validate:"gte=0"`
	AdminCacheTTLSec int    `json:"admin_cache_ttl_sec" yaml:"admin_cache_ttl_sec" validate:"gte=0"`
	SendIntervalMs   int    `json:"send_interval_ms" yaml:"send_interval_ms" validate:"gte=0"`
	// AutoAcceptInvites joins groups this account is invited to. Defaults to true.
	AutoAcceptInvites *bool `json:"auto_accept_invites,omitempty" yaml:"auto_accept_invites"`
}

// AcceptsInvites reports whether group invites are joined automatically
func (c SignalConfig) AcceptsInvites() bool {
	return c.AutoAcceptInvites == nil || *c.AutoAcceptInvites
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path" validate:"required"`
}

// CollectorConfig controls the collection loop
type CollectorConfig struct {
	Enabled           *bool `json:"enabled" yaml:"enabled"`
	PollIntervalSec   int   `json:"poll_interval_sec" yaml:"poll_interval_sec" validate:"gte=0"`
	MaxAttempts       int   `json:"max_attempts" yaml:"max_attempts" validate:"gte=0,lte=20"`
	AttemptTimeoutSec int   `json:"attempt_timeout_sec" yaml:"attempt_timeout_sec" validate:"gte=0"`
	LedgerSize        int   `json:"ledger_size" yaml:"ledger_size" validate:"gte=0"`
}

// IsEnabled reports whether the collection loop should run. It defaults to true.
func (c CollectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RetentionConfig holds the global retention defaults
type RetentionConfig struct {
	DefaultHours         int `json:"default_hours" yaml:"default_hours" validate:"gte=0,lte=168"`
	SummaryRunHours      int `json:"summary_run_hours" yaml:"summary_run_hours" validate:"gte=0"`
	SweepIntervalMinutes int `json:"sweep_interval_minutes" yaml:"sweep_interval_minutes" validate:"gte=0,lte=60"`
}

// SchedulerConfig controls the schedule trigger
type SchedulerConfig struct {
	MisfireGraceMinutes int `json:"misfire_grace_minutes" yaml:"misfire_grace_minutes" validate:"gte=0"`
}

// SummarizerConfig holds the Ollama backend settings
type SummarizerConfig struct {
	Host        string  `json:"host" yaml:"host" validate:"required,url"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSec  int     `json:"timeout_sec" yaml:"timeout_sec" validate:"gte=0"`
	MinMessages int     `json:"min_messages" yaml:"min_messages" validate:"gte=0"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port               int  `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	TrustProxy         bool `json:"trust_proxy" yaml:"trust_proxy"`
	RateLimitPerMinute int  `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled" yaml:"enabled"`
	ServiceName    string  `json:"service_name" yaml:"service_name"`
	ServiceVersion string  `json:"service_version" yaml:"service_version"`
	Environment    string  `json:"environment" yaml:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`
	UseStdout      bool    `json:"use_stdout" yaml:"use_stdout"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms" yaml:"initial_backoff_ms" validate:"gte=0"`
	MaxBackoffMs     int `json:"max_backoff_ms" yaml:"max_backoff_ms" validate:"gte=0"`
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts" validate:"gte=0"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
