package keylock

import (
	"context"
	"errors"
	"time"

	"github.com/Ramsey-B/clover/pkg/redis"
)

// Redis locks keys across instances with SET NX and an owner-checked release.
type Redis struct {
	locker *redis.Locker
}

func NewRedis(locker *redis.Locker) *Redis {
	return &Redis{locker: locker}
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lock, error) {
	lock, err := r.locker.TryAcquire(ctx, key, ttl, wait)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, ErrLockTimeout
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}
