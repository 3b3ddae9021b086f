package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed-window limiter over a shared redis: at most limit
// requests per window for the given key across all agents.
type RedisWindow struct {
	c      *redis.Client
	key    string
	limit  int64
	window time.Duration
	poll   time.Duration
}

func NewRedisWindow(addr, key string, limit int64, window time.Duration) *RedisWindow {
	return &RedisWindow{
		c:      redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
		limit:  limit,
		window: window,
		poll:   100 * time.Millisecond,
	}
}

// Allow делает INCR по ключу окна и ставит TTL.
// Возвращает (allowed, currentCount).
func (rl *RedisWindow) Allow(ctx context.Context, now time.Time) (bool, int64, error) {
	windowKey := rl.key + ":" + now.UTC().Truncate(rl.window).Format("20060102150405")
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.window+time.Second)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	n := incr.Val()
	return n <= rl.limit, n, nil
}

func (rl *RedisWindow) Wait(ctx context.Context) error {
	for {
		ok, _, err := rl.Allow(ctx, time.Now())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.poll):
		}
	}
}

func (rl *RedisWindow) Close() error {
	return rl.c.Close()
}
