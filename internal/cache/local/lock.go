package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// LockManager is a process-local lease table.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
	seq    uint64
}

type lease struct {
	id      uint64
	expires time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{leases: make(map[string]lease), now: time.Now}
}

// Acquire returns domain.ErrLockHeld while an unexpired lease exists.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	id := l.seq
	l.leases[key] = lease{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.leases[key]; ok && cur.id == id {
				delete(l.leases, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
