package service

import (
	"context"

	"sigsummary/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// LogWithContext returns an entry carrying fields. Identifiers are masked
// unless verbose logging is on; message bodies are always hidden.
func LogWithContext(ctx context.Context, logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		return logrus.NewEntry(logger)
	}
	if IsVerboseLogging(ctx) {
		out := make(logrus.Fields, len(fields))
		for k, v := range fields {
			switch k {
			case "body", "message", "text", "summary":
				out[k] = "[hidden]"
			default:
				out[k] = v
			}
		}
		return logger.WithFields(out)
	}
	return logger.WithFields(logrus.Fields(privacy.MaskSensitiveFields(fields)))
}

// LogCollection logs the outcome of one collection cycle
func LogCollection(ctx context.Context, logger *logrus.Logger, result CollectionResult) {
	entry := logger.WithFields(logrus.Fields{
		"stored":    result.MessagesStored,
		"reactions": result.ReactionsStored,
		"dups":      result.Duplicates,
		"commands":  result.CommandsHandled,
		"attempts":  result.AttemptsUsed,
		"failed":    result.FailedAttempts,
	})
	switch {
	case result.Degraded:
		entry.Warn("Collection degraded: every receive attempt failed")
	case result.MessagesStored > 0 || result.ReactionsStored > 0:
		entry.Info("Collected new Signal messages")
	default:
		entry.Debug("No new Signal messages found")
	}
}
