package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"casper-chat/pkg/logger"
)

// KeyedLimiter allows at most a fixed number of events per key within a
// sliding window.
type KeyedLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// New returns a Redis-backed limiter when redisURL is set and reachable,
// otherwise an in-process one.
func New(ctx context.Context, redisURL, prefix string, limit int, window time.Duration) KeyedLimiter {
	if redisURL == "" {
		logger.Info("Rate limiter for %s: in-process", prefix)
		return NewLocalLimiter(limit, window)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("Invalid REDIS_URL, falling back to in-process limiter: %v", err)
		return NewLocalLimiter(limit, window)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable, falling back to in-process limiter: %v", err)
		_ = client.Close()
		return NewLocalLimiter(limit, window)
	}

	logger.Info("Rate limiter for %s: redis", prefix)
	return NewRedisLimiter(client, prefix, limit, window)
}

// LocalLimiter is the in-process sliding-window limiter.
type LocalLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit <= 0 {
		limit = 1
	}
	return &LocalLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	hits := l.hits[key]
	kept := hits[:0]
	for _, at := range hits {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.limit {
		l.hits[key] = kept
		return false, nil
	}

	l.hits[key] = append(kept, now)
	return true, nil
}
