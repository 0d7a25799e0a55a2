package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	return r.WithTimeout(2 * time.Second)
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Cache adapts *redis.Client to the small get/set surface the HTTP layer
// uses, with a miss reported as an empty value rather than redis.Nil.
type Cache struct {
	R *redis.Client
}

func (c Cache) Get(ctx context.Context, key string) (string, error) {
	s, err := c.R.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return s, err
}

func (c Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.R.Set(ctx, key, value, ttl).Err()
}
