package analytics

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	cacheSize = 10
	cacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	result   *UptrendResult
	storedAt time.Time
}

// Cache holds recent uptrend results, bounded and time-expiring. The live
// collector invalidates it on every committed index row.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
	now func() time.Time
}

// NewCache builds the uptrend cache.
func NewCache() *Cache {
	c, _ := lru.New(cacheSize)
	return &Cache{lru: c, now: time.Now}
}

func cacheKey(start, end time.Time, p UptrendParams) string {
	return fmt.Sprintf("%d|%d|%.4f|%d|%.4f",
		start.UnixMilli(), end.UnixMilli(), p.KeepRatio, p.SidewaysCandles, p.MinPct)
}

// Get returns a cached result if present and not expired.
func (c *Cache) Get(start, end time.Time, p UptrendParams) (*UptrendResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(cacheKey(start, end, p))
	if !ok {
		return nil, false
	}
	entry := v.(cacheEntry)
	if c.now().Sub(entry.storedAt) > cacheTTL {
		c.lru.Remove(cacheKey(start, end, p))
		return nil, false
	}
	return entry.result, true
}

// Put stores a result.
func (c *Cache) Put(start, end time.Time, p UptrendParams, result *UptrendResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(cacheKey(start, end, p), cacheEntry{result: result, storedAt: c.now()})
}

// Invalidate drops everything. Called after each live index commit.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
