package protocol

import "sync"

// pairLocks serializes protocol operations per (user, room) pair. Join,
// rejoin, leave, and grace expiry for the same pair run one at a time, in
// arrival order at the lock; operations on different pairs proceed
// concurrently.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*pairLock)}
}

// acquire blocks until the pair's lock is held and returns the release
// function. Lock entries are reference counted so the map does not grow with
// the set of users ever seen.
func (p *pairLocks) acquire(userID, roomID string) func() {
	key := userID + "\x00" + roomID

	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &pairLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}
