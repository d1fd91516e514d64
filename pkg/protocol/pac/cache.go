package pac

import (
	"strconv"
	"time"
)

type cacheEntry struct {
	values    interface{}
	timestamp time.Time
	valid     bool
}

// tableCache holds recent table reads keyed by table:start:end. It is only
// touched with the client lock held.
type tableCache struct {
	ttl     time.Duration
	entries map[string]*cacheEntry
	now     func() time.Time
}

func newTableCache(ttl time.Duration) *tableCache {
	return &tableCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(table string, start, end int) string {
	return table + ":" + strconv.Itoa(start) + ":" + strconv.Itoa(end)
}

func (c *tableCache) get(key string) (interface{}, bool) {
	e, ok := c.entries[key]
	if !ok || !e.valid {
		return nil, false
	}
	if c.now().Sub(e.timestamp) >= c.ttl {
		e.valid = false
		return nil, false
	}
	return e.values, true
}

func (c *tableCache) put(key string, values interface{}) {
	c.entries[key] = &cacheEntry{values: values, timestamp: c.now(), valid: true}
}

func (c *tableCache) clear() {
	c.entries = make(map[string]*cacheEntry)
}

func (c *tableCache) len() int {
	return len(c.entries)
}
