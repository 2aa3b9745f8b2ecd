// Package rediscache keeps the latest value of every notified property in a
// Redis hash per object, keyed covdemo:<device>:<object>.
package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
	"github.com/normalframework/bacnet-cov-demo/internal/notify"
)

const keyPrefix = "covdemo"

// store is the subset of *redis.Client used by Cache.
type store interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Cache is a notify.Sink backed by Redis.
type Cache struct {
	rdb store
}

// New builds a Cache for cfg. No connection is opened until first use.
func New(cfg config.RedisConfig) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Key returns the hash key for an object of a device.
func Key(device, object string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, device, object)
}

func (c *Cache) Name() string { return "redis" }

// Publish stores every value of ev as a hash field, plus the event time.
func (c *Cache) Publish(ctx context.Context, ev notify.Event) error {
	fields := make([]interface{}, 0, 2*len(ev.Values)+2)
	for _, v := range ev.Values {
		fields = append(fields, v.Property, v.Text)
	}
	fields = append(fields, "updated", ev.Time.Format(time.RFC3339Nano))

	if err := c.rdb.HSet(ctx, Key(ev.Device, ev.Object), fields...).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Latest returns the stored fields of an object.
func (c *Cache) Latest(ctx context.Context, device, object string) (map[string]string, error) {
	vals, err := c.rdb.HGetAll(ctx, Key(device, object)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return vals, nil
}

// PingResult issues PING and returns the reply.
func (c *Cache) PingResult(ctx context.Context) (string, error) {
	return c.rdb.Ping(ctx).Result()
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
