package cache

import "sync"

// Map is an unbounded cache meant to live for one unit of work. TTLs are
// ignored.
type Map struct {
	mu sync.RWMutex
	m  map[string]any
}

func NewMap() *Map {
	return &Map{m: make(map[string]any)}
}

func (c *Map) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *Map) Put(key string, val any, _ ...PutOption) {
	c.mu.Lock()
	c.m[key] = val
	c.mu.Unlock()
}

func (c *Map) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

func (c *Map) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

var _ Cache = (*Map)(nil)
