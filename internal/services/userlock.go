package services

import (
	"sync"

	"github.com/google/uuid"
)

// UserLocks serializes state-machine operations per user. Every
// mutation path (interactive, bot, sweep, presence automation) takes
// the same lock, so the one-open-segment invariant survives
// interleaving. Entries are kept for the life of the process; the map
// is bounded by the roster size.
type UserLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Lock acquires the user's mutex and returns the release func.
func (l *UserLocks) Lock(userID uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
