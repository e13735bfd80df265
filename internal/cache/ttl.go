// Package cache provides a small expiring key-value store used for
// best-effort de-duplication of events within a bounded window.
package cache

import (
	"sync"
	"time"
)

// TTL is a concurrency-safe set of keys that expire after a fixed
// duration. Entries self-expire; no manual eviction is ever required.
type TTL struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

// NewTTL creates a cache whose entries live for ttl.
func NewTTL(ttl time.Duration) *TTL {
	return &TTL{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Seen reports whether key was marked within the TTL window, marking it
// either way. The first caller for a key gets false; duplicates within
// the window get true.
func (c *TTL) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)

	if deadline, ok := c.entries[key]; ok && now.Before(deadline) {
		return true
	}
	c.entries[key] = now.Add(c.ttl)
	return false
}

// Len returns the number of live entries.
func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(c.now())
	return len(c.entries)
}

// sweep drops expired entries. Called with the lock held.
func (c *TTL) sweep(now time.Time) {
	for key, deadline := range c.entries {
		if !now.Before(deadline) {
			delete(c.entries, key)
		}
	}
}
