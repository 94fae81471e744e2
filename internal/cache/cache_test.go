package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/storefront/checkout-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProduct() *models.Product {
	return &models.Product{ID: 42, Name: "Widget", Price: decimal.RequireFromString("10.00"), StockQuantity: 3}
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	_, ok := c.Get(ctx, 42)
	assert.False(t, ok)

	c.Set(ctx, testProduct())
	got, ok := c.Get(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, "Widget", got.Name)

	c.Delete(ctx, 42)
	_, ok = c.Get(ctx, 42)
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(-time.Second)

	c.Set(ctx, testProduct())
	_, ok := c.Get(ctx, 42)
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewRedisCache(client, time.Minute, zap.NewNop())

	_, ok := c.Get(ctx, 42)
	assert.False(t, ok)

	c.Set(ctx, testProduct())
	assert.True(t, mr.Exists("product:42"))

	got, ok := c.Get(ctx, 42)
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("10.00")))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, 42)
	assert.False(t, ok)

	c.Set(ctx, testProduct())
	c.Delete(ctx, 42)
	assert.False(t, mr.Exists("product:42"))
}

func TestRedisCacheDownIsAMiss(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	c := NewRedisCache(client, time.Minute, zap.NewNop())
	mr.Close()

	for i := 0; i < 10; i++ {
		_, ok := c.Get(ctx, 42)
		assert.False(t, ok)
	}
	assert.Equal(t, "open", c.breaker.State().String())
}
