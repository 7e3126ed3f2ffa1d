package chart

import (
	"sync"
	"time"
)

// Cache holds the last rendered chart. An entry is valid until it expires
// or a newer state is published.
type Cache struct {
	mu        sync.RWMutex
	data      []byte
	version   time.Time
	expiresAt time.Time
	ttl       time.Duration
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get returns the cached chart rendered for the state updated at version.
func (c *Cache) Get(version time.Time) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.data == nil || !c.version.Equal(version) || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *Cache) Set(version time.Time, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = data
	c.version = version
	c.expiresAt = time.Now().Add(c.ttl)
}
