package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	productListKey       = "products:all"
	productGenerationKey = "products:generation"
)

func InitRedis(addr, password string, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// ProductCache keeps the serialized product list. Every invalidation bumps a
// generation counter, and a list read under an older generation is never
// written back.
type ProductCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewProductCache(rdb *redis.Client, ttl time.Duration) *ProductCache {
	return &ProductCache{rdb: rdb, ttl: ttl}
}

// GetProducts returns the cached list. ok is false on a miss.
func (c *ProductCache) GetProducts(ctx context.Context) (products []models.ProductResponse, ok bool, err error) {
	data, err := c.rdb.Get(ctx, productListKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := json.Unmarshal(data, &products); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached products: %w", err)
	}
	return products, true, nil
}

// Generation returns the current invalidation count. Read it before loading
// the list from the store and pass it to SetProducts.
func (c *ProductCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, productGenerationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// SetProducts stores products unless the cache was invalidated after gen was
// read. A skipped write is not an error.
func (c *ProductCache) SetProducts(ctx context.Context, gen int64, products []models.ProductResponse) error {
	data, err := json.Marshal(products)
	if err != nil {
		return err
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, productGenerationKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, productListKey, data, c.ttl)
			return nil
		})
		return err
	}, productGenerationKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *ProductCache) Invalidate(ctx context.Context) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, productGenerationKey)
		pipe.Del(ctx, productListKey)
		return nil
	})
	return err
}
