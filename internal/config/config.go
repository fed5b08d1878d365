package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sigsummary/internal/constants"
	"sigsummary/internal/models"
	"sigsummary/internal/security"
	"sigsummary/internal/validation"
)

var (
	ErrMissingSignalURL  = models.ConfigError{Message: "missing Signal RPC URL"}
	ErrMissingPhone      = models.ConfigError{Message: "missing Signal account phone number"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrWeakEncryptionKey = models.ConfigError{Message: "encryption secret must be at least 32 characters long"}
)

var structValidator = validator.New()

// LoadConfig reads a JSON or YAML config file, fills in defaults, applies
// SIGSUMMARY_* environment overrides and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	loadDotEnv(path)

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := unmarshal(path, file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadDotEnv loads a .env file next to the config and one in the working
// directory. Variables already present in the environment win.
func loadDotEnv(path string) {
	candidates := []string{filepath.Join(filepath.Dir(path), ".env"), ".env"}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		_ = godotenv.Load(candidate)
	}
}

func unmarshal(path string, data []byte, config *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Signal.HTTPTimeoutSec <= 0 {
		c.Signal.HTTPTimeoutSec = constants.DefaultSignalHTTPTimeoutSec
	}
	if c.Signal.AdminCacheTTLSec <= 0 {
		c.Signal.AdminCacheTTLSec = constants.DefaultAdminCacheTTLSec
	}
	if c.Signal.SendIntervalMs <= 0 {
		c.Signal.SendIntervalMs = constants.DefaultSendIntervalMs
	}

	if c.Collector.PollIntervalSec <= 0 {
		c.Collector.PollIntervalSec = constants.DefaultCollectorPollIntervalSec
	}
	if c.Collector.MaxAttempts <= 0 {
		c.Collector.MaxAttempts = constants.DefaultCollectionAttempts
	}
	if c.Collector.AttemptTimeoutSec <= 0 {
		c.Collector.AttemptTimeoutSec = constants.DefaultCollectionAttemptTimeoutSec
	}
	if c.Collector.LedgerSize <= 0 {
		c.Collector.LedgerSize = constants.DefaultLedgerSize
	}

	if c.Retention.DefaultHours <= 0 {
		c.Retention.DefaultHours = constants.DefaultRetentionHours
	}
	if c.Retention.SummaryRunHours <= 0 {
		c.Retention.SummaryRunHours = constants.DefaultSummaryRunHours
	}
	if c.Retention.SweepIntervalMinutes <= 0 {
		c.Retention.SweepIntervalMinutes = constants.DefaultSweepIntervalMinutes
	}

	if c.Scheduler.MisfireGraceMinutes <= 0 {
		c.Scheduler.MisfireGraceMinutes = constants.DefaultMisfireGraceMinutes
	}

	if c.Summarizer.Host == "" {
		c.Summarizer.Host = constants.DefaultOllamaHost
	}
	if c.Summarizer.Model == "" {
		c.Summarizer.Model = constants.DefaultOllamaModel
	}
	if c.Summarizer.Temperature == 0 {
		c.Summarizer.Temperature = constants.DefaultOllamaTemperature
	}
	if c.Summarizer.TimeoutSec <= 0 {
		c.Summarizer.TimeoutSec = constants.DefaultSummaryTimeoutSec
	}
	if c.Summarizer.MinMessages <= 0 {
		c.Summarizer.MinMessages = constants.DefaultMinSummaryMessages
	}

	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = constants.DefaultRateLimitPerMinute
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = constants.ServiceName
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func validate(c *models.Config) error {
	if c.Signal.RPCURL == "" {
		return ErrMissingSignalURL
	}
	if c.Signal.PhoneNumber == "" {
		return ErrMissingPhone
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if err := structValidator.Struct(c); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid configuration: %v", err)}
	}

	if err := validation.ValidatePhoneNumber(c.Signal.PhoneNumber); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid signal.phone_number: %v", err)}
	}
	if err := validation.ValidateRetentionHours(c.Retention.DefaultHours); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("retention.default_hours must be between %d and %d",
			constants.MinRetentionHours, constants.MaxRetentionHours)}
	}
	if err := security.ValidateFilePath(c.Database.Path); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("invalid database.path: %v", err)}
	}
	if c.Tracing.Enabled && !c.Tracing.UseStdout && c.Tracing.OTLPEndpoint == "" {
		return models.ConfigError{Message: "tracing.otlp_endpoint is required when tracing is enabled without use_stdout"}
	}
	return nil
}

// applyEnvironmentOverrides lets deployments override file settings. Secrets
// are only ever read from the environment.
func applyEnvironmentOverrides(c *models.Config) {
	setString(&c.Signal.RPCURL, "SIGNAL_RPC_URL")
	setString(&c.Signal.PhoneNumber, "SIGNAL_PHONE_NUMBER")
	setString(&c.Database.Path, "DB_PATH")
	setString(&c.Summarizer.Host, "OLLAMA_HOST")
	setString(&c.Summarizer.Model, "OLLAMA_MODEL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setInt(&c.Retention.DefaultHours, "DEFAULT_RETENTION_HOURS")
	setInt(&c.Server.Port, "PORT")
	setBool(&c.DryRun, "DRY_RUN")
	if v := os.Getenv(constants.EnvPrefix + "AUTO_ACCEPT_INVITES"); v != "" {
		accept := c.Signal.AcceptsInvites()
		setBool(&accept, "AUTO_ACCEPT_INVITES")
		c.Signal.AutoAcceptInvites = &accept
	}

	c.Signal.AuthToken = os.Getenv(constants.EnvSignalAuthToken)
}

func setString(dst *string, key string) {
	if v := os.Getenv(constants.EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(constants.EnvPrefix + key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	} else {
		fmt.Fprintf(os.Stderr, "WARNING: ignoring %s%s=%q: not an integer\n", constants.EnvPrefix, key, v)
	}
}

func setBool(dst *bool, key string) {
	v := os.Getenv(constants.EnvPrefix + key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	} else {
		fmt.Fprintf(os.Stderr, "WARNING: ignoring %s%s=%q: not a boolean\n", constants.EnvPrefix, key, v)
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	if os.Getenv(constants.EnvEnableEncryption) == "true" {
		if len(os.Getenv(constants.EnvEncryptionSecret)) < 32 {
			return ErrWeakEncryptionKey
		}
	} else {
		fmt.Fprintf(os.Stderr, "WARNING: message encryption at rest is disabled. Set %s=true and %s to enable it.\n",
			constants.EnvEnableEncryption, constants.EnvEncryptionSecret)
	}

	if os.Getenv(constants.EnvPrefix+"ENV") == "production" && (c.LogLevel == "debug" || c.LogLevel == "trace") {
		return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
	}

	return nil
}
