package funnel

import "sync"

// contactLocks hands out one mutex per contact so that the read-decide-write
// cycle for a contact is serialized while different contacts proceed in
// parallel. Locks are never removed; the population is bounded by the number
// of distinct contacts seen in a process lifetime.
type contactLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newContactLocks() *contactLocks {
	return &contactLocks{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for a contact, creating it on first use.
func (c *contactLocks) Get(contact string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[contact]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[contact] = lock
	}
	return lock
}
