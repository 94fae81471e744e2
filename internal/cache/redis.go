package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/storefront/checkout-api/internal/logger"
	"github.com/storefront/checkout-api/internal/models"
	"go.uber.org/zap"
)

// RedisCache stores products as JSON under product:<id>. Calls go through a
// circuit breaker so a dead Redis costs one failed call per open period.
type RedisCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "product-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &RedisCache{
		client:  client,
		ttl:     ttl,
		breaker: cb,
		logger:  log,
	}
}

func key(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func (c *RedisCache) Get(ctx context.Context, id int64) (*models.Product, bool) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Get(ctx, key(id)).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, gobreaker.ErrOpenState) {
			logger.Warn(ctx, c.logger, "Product cache read failed", zap.Int64("product_id", id), zap.Error(err))
		}
		return nil, false
	}

	var product models.Product
	if err := json.Unmarshal(res.([]byte), &product); err != nil {
		logger.Warn(ctx, c.logger, "Dropping undecodable cache entry", zap.Int64("product_id", id), zap.Error(err))
		c.Delete(ctx, id)
		return nil, false
	}
	return &product, true
}

func (c *RedisCache) Set(ctx context.Context, product *models.Product) {
	data, err := json.Marshal(product)
	if err != nil {
		logger.Warn(ctx, c.logger, "Failed to encode product for cache", zap.Int64("product_id", product.ID), zap.Error(err))
		return
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key(product.ID), data, c.ttl).Err()
	})
	if err != nil {
		logger.Warn(ctx, c.logger, "Product cache write failed", zap.Int64("product_id", product.ID), zap.Error(err))
	}
}

func (c *RedisCache) Delete(ctx context.Context, id int64) {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Del(ctx, key(id)).Err()
	})
	if err != nil {
		logger.Warn(ctx, c.logger, "Product cache delete failed", zap.Int64("product_id", id), zap.Error(err))
	}
}
