// Package memory provides the in-process cache variant of the persistence
// façade's cache composition ("Store with variants
// {Relational, File, Memory}").
package memory

import (
	"sync"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Cache is a concurrency-safe in-process cache of evaluation records,
// guarded by a single read-write mutex over the whole map.
type Cache struct {
	mu   sync.RWMutex
	data map[string]domain.Evaluation
}

// NewCache constructs an empty Cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string]domain.Evaluation)}
}

// Get returns the cached record for id, if present.
func (c *Cache) Get(id string) (domain.Evaluation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ev, ok := c.data[id]
	return ev, ok
}

// Set stores the full, post-write record ("on write, the cache is
// updated with the full, post-write record").
func (c *Cache) Set(ev domain.Evaluation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[ev.ID] = ev
}

// Delete evicts id from the cache.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, id)
}
