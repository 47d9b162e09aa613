package lock

import (
	"context"
	"sync"
	"time"
)

// lapsed claims are only swept once the map grows past this many entries
const minSweepSize = 1024

// MemoryLocker only excludes workers inside one process.
type MemoryLocker struct {
	mu        sync.Mutex
	expires   map[string]time.Time
	sweepSize int
	now       func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		expires:   map[string]time.Time{},
		sweepSize: minSweepSize,
		now:       time.Now,
	}
}

func (l *MemoryLocker) TryAcquire(ctx context.Context, invoiceID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.expires[invoiceID]; ok && now.Before(until) {
		return false, nil
	}
	l.expires[invoiceID] = now.Add(ttl)
	if len(l.expires) > l.sweepSize {
		l.sweep(now)
	}
	return true, nil
}

// sweep drops lapsed claims. The next sweep waits until the map has doubled
// from what survived, which keeps the cost per acquire constant.
func (l *MemoryLocker) sweep(now time.Time) {
	for id, until := range l.expires {
		if !now.Before(until) {
			delete(l.expires, id)
		}
	}
	l.sweepSize = 2 * len(l.expires)
	if l.sweepSize < minSweepSize {
		l.sweepSize = minSweepSize
	}
}
