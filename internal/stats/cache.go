package stats

import "sync"

// Cache holds the latest sample for readers that must not block on
// collection, such as gauge callbacks.
type Cache struct {
	mu     sync.RWMutex
	latest Sample
	has    bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Store replaces the latest sample.
func (c *Cache) Store(s Sample) {
	c.mu.Lock()
	c.latest, c.has = s, true
	c.mu.Unlock()
}

// Latest returns the latest sample and whether one has been stored.
func (c *Cache) Latest() (Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.has
}

// CPUPercent reports the cached CPU utilization.
func (c *Cache) CPUPercent() (float64, bool) {
	s, ok := c.Latest()
	return s.CPUPercent, ok
}

// MemoryPercent reports the cached memory utilization.
func (c *Cache) MemoryPercent() (float64, bool) {
	s, ok := c.Latest()
	return s.MemoryPercent, ok
}
