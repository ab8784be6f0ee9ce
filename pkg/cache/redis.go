// pkg/cache/redis.go
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type redisCache struct {
	cli *redis.Client
}

// MustRedis connects to Redis from a URL and wraps it as a Cache. Returns nil
// when the URL is empty so callers can fall back to the memory cache.
func MustRedis(redisURL string, log *zap.SugaredLogger) Cache {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalw("redis parse", "err", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(context.Background()).Err(); err != nil {
		log.Fatalw("redis ping", "err", err)
	}
	log.Infow("redis ready", "addr", opts.Addr)
	return &redisCache{cli: cli}
}

// NewRedis wraps an existing client.
func NewRedis(cli *redis.Client) Cache { return &redisCache{cli: cli} }

func (c *redisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.cli.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *redisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.cli.Set(ctx, key, value, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.cli.Del(ctx, key).Err()
}

func (c *redisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		_ = c.cli.Expire(ctx, key, ttl).Err()
	}
	return n, nil
}

// RedactDSN hides credentials embedded in a connection URL for logging.
func RedactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i > 0 {
		return "***@" + dsn[i+1:]
	}
	return dsn
}
