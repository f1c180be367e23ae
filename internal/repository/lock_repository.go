package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/tracker-closure/pkg/errors"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRepository stores program locks in Redis.
type LockRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLockRepository constructs a lock repository.
func NewLockRepository(client *redis.Client, logger *zap.Logger) *LockRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LockRepository{client: client, logger: logger}
}

// TrySetNX stores token under key unless the key exists.
func (r *LockRepository) TrySetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis setnx %s: client not configured", key)
	}
	acquired, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return acquired, nil
}

// Get returns the token stored under key, or ErrCacheMiss when absent.
func (r *LockRepository) Get(ctx context.Context, key string) (string, error) {
	if r.client == nil {
		return "", appErrors.ErrCacheMiss
	}
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", appErrors.ErrCacheMiss
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// DeleteIfEquals removes key when it still holds token and reports whether it did.
func (r *LockRepository) DeleteIfEquals(ctx context.Context, key, token string) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	deleted, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("redis release %s: %w", key, err)
	}
	return deleted == 1, nil
}
