package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// MarketCache keeps market snapshots in process memory with a fixed TTL.
type MarketCache struct {
	mu      sync.RWMutex
	entries map[string]cachedMarket
	ttl     time.Duration
	now     func() time.Time
}

type cachedMarket struct {
	market  domain.Market
	expires time.Time
}

// NewMarketCache returns an empty cache whose entries live for ttl.
func NewMarketCache(ttl time.Duration) *MarketCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MarketCache{entries: make(map[string]cachedMarket), ttl: ttl, now: time.Now}
}

// Set stores a snapshot of market.
func (c *MarketCache) Set(_ context.Context, market domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[market.ID] = cachedMarket{market: market, expires: c.now().Add(c.ttl)}
	return nil
}

// Get returns domain.ErrNotFound for a missing or expired snapshot.
func (c *MarketCache) Get(_ context.Context, id string) (domain.Market, error) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return domain.Market{}, domain.ErrNotFound
	}
	return e.market, nil
}

// Invalidate drops the snapshot of a market.
func (c *MarketCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}

var _ domain.MarketCache = (*MarketCache)(nil)
