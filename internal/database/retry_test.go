package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"wrapped busy", fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"locked text", errors.New("database is locked"), true},
		{"disk io text", errors.New("disk I/O error"), true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("no such table: messages"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableDBError(tt.err))
		})
	}
}

func TestIsConstraintError(t *testing.T) {
	assert.True(t, isConstraintError(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.True(t, isConstraintError(errors.New("CHECK constraint failed: group_policies")))
	assert.False(t, isConstraintError(errors.New("other")))
	assert.False(t, isConstraintError(nil))
}

func TestWithRetry(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)

	attempts = 0
	err = withRetry(context.Background(), "op", func(ctx context.Context) error {
		attempts++
		return errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "op failed")
}
