// Package cache holds read-through product caches.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/storefront/checkout-api/internal/models"
)

// ProductCache stores catalog entries. Implementations never fail the caller:
// a backend problem is a miss.
type ProductCache interface {
	Get(ctx context.Context, id int64) (*models.Product, bool)
	Set(ctx context.Context, product *models.Product)
	Delete(ctx context.Context, id int64)
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

// MemoryCache is a process-local TTL cache
type MemoryCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
	ttl   time.Duration
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[int64]cachedProduct),
		ttl:   ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, id int64) (*models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.items[id]
	if !ok || time.Now().After(cached.expires) {
		return nil, false
	}
	p := cached.product
	return &p, true
}

func (c *MemoryCache) Set(_ context.Context, product *models.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[product.ID] = cachedProduct{
		product: *product,
		expires: time.Now().Add(c.ttl),
	}
}

func (c *MemoryCache) Delete(_ context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, id)
}
