package gateway

import (
	"sync"
	"time"

	"github.com/WangXiZhu/daily-stock-analysis/internal/models"
)

type cachedQuote struct {
	quote   *models.Quote
	expires time.Time
}

// quoteCache is a TTL cache of realtime quotes keyed by symbol.
type quoteCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cachedQuote
	now   func() time.Time
}

func newQuoteCache(ttl time.Duration) *quoteCache {
	return &quoteCache{
		ttl:   ttl,
		items: make(map[string]cachedQuote),
		now:   time.Now,
	}
}

func (c *quoteCache) get(symbol string) (*models.Quote, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	item, ok := c.items[symbol]
	c.mu.RUnlock()
	if !ok || c.now().After(item.expires) {
		return nil, false
	}
	return item.quote, true
}

func (c *quoteCache) put(symbol string, q *models.Quote) {
	if c.ttl <= 0 || q == nil {
		return
	}
	c.mu.Lock()
	c.items[symbol] = cachedQuote{quote: q, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
