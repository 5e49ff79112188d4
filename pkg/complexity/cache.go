package complexity

import (
	"sync"
	"time"
)

type cacheEntry struct {
	score    Score
	storedAt time.Time
}

// scoreCache is a TTL cache for classification results. Expired entries are
// dropped lazily on lookup and wholesale via prune.
type scoreCache struct {
	ttl     time.Duration
	clock   func() time.Time
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func newScoreCache(ttl time.Duration, clock func() time.Time) *scoreCache {
	return &scoreCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]cacheEntry),
	}
}

func (c *scoreCache) get(key string) (Score, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return Score{}, false
	}

	if c.clock().Sub(entry.storedAt) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return Score{}, false
	}

	return entry.score.clone(), true
}

func (c *scoreCache) put(key string, score Score) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{
		score:    score.clone(),
		storedAt: c.clock(),
	}
	c.mu.Unlock()
}

// prune drops all expired entries and reports how many were removed.
func (c *scoreCache) prune() int {
	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *scoreCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
