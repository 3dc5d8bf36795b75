package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockBusy is returned when another holder owns the key.
var ErrLockBusy = errors.New("lock busy")

// GRNLockKey builds redis keys for GRN critical sections.
func GRNLockKey(grnID int64) string {
	return fmt.Sprintf("procurement:grn:%d:lock", grnID)
}

// POLockKey builds redis keys for PO-wide critical sections such as GRN creation.
func POLockKey(poID int64) string {
	return fmt.Sprintf("procurement:po:%d:lock", poID)
}

// Locker obtains short-lived exclusive locks.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RedisLocker implements Locker on top of bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker wraps a redis client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(client)}
}

// Obtain takes the lock without retrying.
func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockBusy
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, nil
}
