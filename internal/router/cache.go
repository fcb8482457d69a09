package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"dex-router/internal/order"
	"dex-router/internal/venue"
)

// quoteCache 按 (资产, 方向, 数量, 场所) 缓存报价。
// TTL 为 0 表示禁用缓存。同键并发写采用后写覆盖，报价本身是短命的建议值。
type quoteCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	quote    venue.Quote
	storedAt time.Time
}

func newQuoteCache(ttl time.Duration) *quoteCache {
	return &quoteCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func quoteKey(asset string, side order.Side, quantity float64, venueID string) string {
	return fmt.Sprintf("%s|%s|%.8f|%s", asset, side, quantity, venueID)
}

func (c *quoteCache) get(key string) (venue.Quote, bool) {
	if c.ttl <= 0 {
		return venue.Quote{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return venue.Quote{}, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return venue.Quote{}, false
	}
	return entry.quote, true
}

func (c *quoteCache) put(key string, q venue.Quote) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{quote: q, storedAt: c.now()}
}

// clear 失效指定资产的缓存项；asset 为空时清空全部。
func (c *quoteCache) clear(asset string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if asset == "" {
		c.entries = make(map[string]cacheEntry)
		return
	}

	prefix := asset + "|"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}
