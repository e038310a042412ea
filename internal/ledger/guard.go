package ledger

import "sync"

// accountLocks serializes read-modify-write sequences per account.
// Mutations for different accounts may proceed in parallel up to the
// store-level write lock; two mutations for the same account never
// interleave their get-compute-persist sequence.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for the given account id, creating it on first
// use. The returned func releases it. Lock entries are never removed; the
// account population is small and bounded by real users.
func (l *accountLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
