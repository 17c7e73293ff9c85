package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

const noncePrefix = "suivi:nonce:"

type redisNonceCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

var _ progress.NonceCache = (*redisNonceCache)(nil)

// NewRedisNonceCache connects to conf.Redis.Addr and checks the connection.
func NewRedisNonceCache(conf *core.Config) (*redisNonceCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        conf.Redis.Addr,
		Password:    conf.Redis.Password,
		DB:          conf.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &redisNonceCache{rdb: rdb, ttl: conf.Redis.NonceTTL}, nil
}

func (c *redisNonceCache) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, noncePrefix+key, 1, c.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}

func (c *redisNonceCache) Release(ctx context.Context, key string) error {
	return errors.Wrap(c.rdb.Del(ctx, noncePrefix+key).Err(), "redis del")
}

func (c *redisNonceCache) Close() error {
	return c.rdb.Close()
}
