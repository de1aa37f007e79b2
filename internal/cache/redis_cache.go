package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"stockledger/backend/internal/domain"
)

// generationTTL outlives any stock entry so a pending fill cannot see a
// generation counter expire and restart under it.
const generationTTL = 24 * time.Hour

var errStaleFill = errors.New("stock level changed since read")

type RedisStockLevelCache struct {
	client *redis.Client
}

func NewRedisStockLevelCache(addr string, password string, db int) *RedisStockLevelCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisStockLevelCache{client: client}
}

func (c *RedisStockLevelCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStockLevelCache) Close() error {
	return c.client.Close()
}

func (c *RedisStockLevelCache) Get(ctx context.Context, tenantID int64, key domain.StockKey) (*domain.StockItem, bool, error) {
	val, err := c.client.Get(ctx, stockLevelKey(tenantID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var item domain.StockItem
	if err := json.Unmarshal(val, &item); err != nil {
		return nil, false, err
	}
	return &item, true, nil
}

func (c *RedisStockLevelCache) Generation(ctx context.Context, tenantID int64, key domain.StockKey) (int64, error) {
	return readGeneration(ctx, c.client, stockGenerationKey(tenantID, key))
}

// Set stores item only while the key's generation still equals generation.
// A lost race is not an error; the entry is simply not written.
func (c *RedisStockLevelCache) Set(ctx context.Context, item domain.StockItem, generation int64, ttl time.Duration) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	valueKey := stockLevelKey(item.TenantID, item.Key())
	genKey := stockGenerationKey(item.TenantID, item.Key())

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, genKey)
		if err != nil {
			return err
		}
		if current != generation {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, valueKey, payload, ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *RedisStockLevelCache) Invalidate(ctx context.Context, tenantID int64, keys ...domain.StockKey) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			genKey := stockGenerationKey(tenantID, key)
			pipe.Incr(ctx, genKey)
			pipe.Expire(ctx, genKey, generationTTL)
			pipe.Del(ctx, stockLevelKey(tenantID, key))
		}
		return nil
	})
	return err
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGeneration(ctx context.Context, client stringGetter, key string) (int64, error) {
	generation, err := client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return generation, err
}
