package service

import (
	"fmt"
	"sync"
	"testing"

	"sigsummary/internal/constants"
	"sigsummary/internal/models"

	"github.com/stretchr/testify/assert"
)

func key(ts int64) models.MessageKey {
	return models.MessageKey{Timestamp: ts, SenderID: "alice", GroupID: "g1"}
}

func TestLedger_SeenAfterMark(t *testing.T) {
	l := NewLedger(10)

	assert.False(t, l.Seen(key(1)))
	l.Mark(key(1))
	assert.True(t, l.Seen(key(1)))
	assert.False(t, l.Seen(models.MessageKey{Timestamp: 1, SenderID: "bob", GroupID: "g1"}))

	l.Mark(key(1))
	assert.Equal(t, 1, l.Len())
}

func TestLedger_EvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLedger(3)
	l.Mark(key(1))
	l.Mark(key(2))
	l.Mark(key(3))

	// touch 1 so 2 becomes the oldest
	assert.True(t, l.Seen(key(1)))
	l.Mark(key(4))

	assert.Equal(t, 3, l.Len())
	assert.True(t, l.Seen(key(1)))
	assert.False(t, l.Seen(key(2)))
	assert.True(t, l.Seen(key(3)))
	assert.True(t, l.Seen(key(4)))
}

func TestLedger_DefaultCapacity(t *testing.T) {
	l := NewLedger(0)
	assert.Equal(t, constants.DefaultLedgerSize, l.capacity)
}

func TestLedger_Concurrent(t *testing.T) {
	l := NewLedger(1000)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				k := models.MessageKey{Timestamp: int64(i), SenderID: fmt.Sprint(w), GroupID: "g"}
				l.Mark(k)
				l.Seen(k)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 800, l.Len())
}
