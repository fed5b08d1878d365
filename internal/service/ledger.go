package service

import (
	"sigsummary/internal/constants"
	"sigsummary/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Ledger is a bounded in-memory record of identity keys already written. It
// fronts the store's unique index, which stays authoritative once a key has
// been evicted.
type Ledger struct {
	capacity int
	cache    *lru.Cache[models.MessageKey, struct{}]
}

func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = constants.DefaultLedgerSize
	}
	// New only fails for a non-positive size.
	cache, _ := lru.New[models.MessageKey, struct{}](capacity)
	return &Ledger{capacity: capacity, cache: cache}
}

// Seen reports whether key was marked and refreshes its recency
func (l *Ledger) Seen(key models.MessageKey) bool {
	_, ok := l.cache.Get(key)
	return ok
}

// Mark records key, evicting the least recently used entry when full
func (l *Ledger) Mark(key models.MessageKey) {
	l.cache.Add(key, struct{}{})
}

func (l *Ledger) Len() int {
	return l.cache.Len()
}
