package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/attendance-station/internal/retry"
)

// RetryingCache retries transient failures of the wrapped cache with
// exponential backoff. Misses are returned immediately.
type RetryingCache struct {
	next  Cache
	retry *retry.Executor
}

// NewRetryingCache wraps next with three attempts starting at 50ms.
func NewRetryingCache(next Cache, logger *zap.Logger) *RetryingCache {
	return &RetryingCache{
		next: next,
		retry: retry.New(logger.Named("cache"), func(err error) bool {
			return errors.Is(err, ErrMiss)
		}),
	}
}

func (r *RetryingCache) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	return r.retry.Run(ctx, "cache.set", "", func() error {
		return r.next.Set(ctx, key, value, expiration)
	}, zap.String("key", key))
}

func (r *RetryingCache) Get(ctx context.Context, key string) (string, error) {
	var result string
	err := r.retry.Run(ctx, "cache.get", "", func() error {
		value, err := r.next.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	}, zap.String("key", key))
	if err != nil {
		return "", err
	}
	return result, nil
}
