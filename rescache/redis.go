// CLAUDE:SUMMARY Redis Backend — native TTLs, connection errors degrade to cache misses.
package rescache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces our entries inside a shared Redis instance.
const keyPrefix = "raytv:"

// Redis is a Backend over a shared Redis instance. Connection or command
// errors on the read path degrade to cache misses: a flaky cache must never
// make a call fail that would otherwise succeed.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis wraps an existing client. logger may be nil.
func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr string, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return NewRedis(client, logger), nil
}

// Get implements Backend.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		r.logger.Warn("rescache: redis get failed, treating as miss", "key", key, "error", err)
		return nil, false, nil
	}
	return val, true, nil
}

// Set implements Backend.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return r.client.Set(ctx, keyPrefix+key, value, 0).Err()
	}
	return r.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// Remove implements Backend.
func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

// Clear implements Backend. Only keys under our prefix are touched.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
