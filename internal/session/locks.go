package session

import "sync"

// sessionLocks hands out one mutex per session id so mutations to a single
// session serialize while unrelated sessions proceed in parallel. Lock
// entries are never reclaimed; a mutex is two words and session ids are
// bounded by the reaper.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *sessionLocks) get(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[sessionID] = lock
	}
	return lock
}
