package cache

import (
	"strings"
	"sync"
	"time"
)

// TTL is an in-memory cache of encoded values ([]byte, usually JSON) that
// expire after a fixed duration. A background sweeper removes expired
// entries until Close is called.
type TTL struct {
	mu    sync.RWMutex
	items map[string]item
	ttl   time.Duration
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type item struct {
	data []byte
	exp  time.Time
}

// New returns a TTL cache. A non-positive ttl falls back to 30s.
func New(ttl time.Duration) *TTL {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &TTL{items: make(map[string]item), ttl: ttl, now: time.Now, stop: make(chan struct{})}
	go c.sweep()
	return c
}

func (c *TTL) sweep() {
	tick := time.NewTicker(c.ttl / 2)
	defer tick.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-tick.C:
			c.mu.Lock()
			now := c.now()
			for k, v := range c.items {
				if v.exp.Before(now) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Close stops the sweeper. The cache stays usable.
func (c *TTL) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Get returns the value for key, or nil when missing or expired.
func (c *TTL) Get(key string) []byte {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || it.exp.Before(c.now()) {
		return nil
	}
	return it.data
}

func (c *TTL) Set(key string, value []byte) {
	exp := c.now().Add(c.ttl)
	c.mu.Lock()
	c.items[key] = item{data: value, exp: exp}
	c.mu.Unlock()
}

func (c *TTL) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// DeletePrefix drops every key starting with prefix (e.g. "agenda:list:").
func (c *TTL) DeletePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Len counts stored entries, expired ones included until the next sweep.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
