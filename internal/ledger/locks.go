package ledger

import "sync"

// userLocks hands out one mutex per user id. Cash balance is a stored
// running value, so concurrent settlements for the same user would race on
// its read-modify-write; serializing per user closes that window while
// leaving different users fully parallel.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*sync.Mutex)}
}

// of returns the mutex for a user, creating it on first use. Lock entries
// are never evicted; the population is bounded by the user count.
func (l *userLocks) of(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}
