package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"sigsummary/internal/constants"
	"sigsummary/internal/retry"
)

var dbBackoff = retry.BackoffConfig{
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2.0,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
}

// withRetry runs a write that may hit a busy database
func withRetry(ctx context.Context, operationName string, operation func(ctx context.Context) error) error {
	err := retry.NewBackoff(dbBackoff).RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err != nil {
		if !isRetryableDBError(err) {
			return fmt.Errorf("%s failed: %w", operationName, err)
		}
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, dbBackoff.MaxAttempts, err)
	}
	return nil
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr:
			return true
		default:
			return false
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "disk I/O error")
}

// isConstraintError reports a UNIQUE/CHECK/FOREIGN KEY violation
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
