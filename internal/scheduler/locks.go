package scheduler

import "sync"

// UserLocks serializes all work on one user's state. The tick loop and the
// confirmation/mutation handlers both take the lock for the full
// read-compute-write unit, so a confirmation can never interleave with a
// tick's write for the same user. Different users never share a lock.
type UserLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewUserLocks creates an empty lock registry.
func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the per-user mutex, creating it on first use.
func (l *UserLocks) Lock(chatID int64) {
	l.mu.Lock()
	m, ok := l.locks[chatID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[chatID] = m
	}
	l.mu.Unlock()
	m.Lock()
}

// Unlock releases the per-user mutex.
func (l *UserLocks) Unlock(chatID int64) {
	l.mu.Lock()
	m := l.locks[chatID]
	l.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}
