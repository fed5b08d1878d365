package constants

// Collection defaults
const (
	DefaultCollectorPollIntervalSec    = 60
	DefaultCollectionAttempts          = 3
	DefaultCollectionAttemptTimeoutSec = 30
	DefaultLedgerSize                  = 10000
	// ReceiveDeadlineSlackSec is added to the long-poll timeout to get the
	// client deadline, so the server answers before the request is cut.
	ReceiveDeadlineSlackSec = 10
)

// Retention defaults
const (
	DefaultRetentionHours        = 48
	MinRetentionHours            = 1
	MaxRetentionHours            = 168
	DefaultSummaryRunHours       = 168
	DefaultSweepIntervalMinutes  = 60
	HandledCommandRetentionHours = 168
)

// Schedule trigger defaults
const (
	DefaultMisfireGraceMinutes = 60
	DefaultSummaryPeriodHours  = 24
	TriggerTickSpec            = "@every 1m"
)

// Summarizer defaults
const (
	DefaultOllamaHost         = "http://localhost:11434"
	DefaultOllamaModel        = "dolphin-mistral:7b"
	DefaultOllamaTemperature  = 0.3
	DefaultSummaryTimeoutSec  = 240
	DefaultMinSummaryMessages = 3
	DefaultConciseMaxTokens   = 200
	DefaultDetailedMaxTokens  = 500
	MaxReactionEmojisInPrompt = 5
)

// Transport defaults
const (
	DefaultSignalHTTPTimeoutSec = 60
	DefaultAdminCacheTTLSec     = 300
	DefaultSendIntervalMs       = 500
	MaxSignalMessageLength      = 2000
	InviteGreeting              = "Hello! sigsummary is now active and ready to generate summaries. Send !help for commands."
)

// Timeouts and server settings
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	ServerErrorChannelSize       = 1
	DefaultConfigWatchInterval   = 5
	DefaultRateLimitPerMinute    = 120
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
)

// Encryption salts. Changing these makes existing rows unreadable.
const (
	EncryptionSalt       = "sigsummary-message-store-v1"
	EncryptionLookupSalt = "sigsummary-lookup-v1"
)

// ServiceName identifies the process in traces and metrics
const ServiceName = "sigsummary"

// Environment variables
const (
	EnvEncryptionSecret = "SIGSUMMARY_ENCRYPTION_SECRET"
	EnvEnableEncryption = "SIGSUMMARY_ENABLE_ENCRYPTION"
	EnvSignalAuthToken  = "SIGSUMMARY_SIGNAL_AUTH_TOKEN"
	EnvPrefix           = "SIGSUMMARY_"
)

// Privacy settings
const (
	DefaultIDMaskLength = 4
)
