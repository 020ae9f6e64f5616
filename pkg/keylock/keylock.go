// Package keylock serializes work on named keys, such as a (tenant, provider, entity type)
// pull or the entity ids of a merge.
package keylock

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
)

// ErrLockTimeout is returned when a key stays held past the wait timeout.
var ErrLockTimeout = errors.New("lock wait timed out")

// Lock is a held key.
type Lock interface {
	Release(ctx context.Context) error
}

// Extender is implemented by locks that expire unless renewed.
type Extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker acquires exclusive locks on keys. Acquire waits up to wait for the key to be free; ttl
// bounds how long a crashed holder can keep it where the backend supports expiry.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lock, error)
}

// Key joins parts into a lock key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// AcquireAll locks every key in sorted order so overlapping sets cannot deadlock. On failure the
// keys already held are released. A timeout is reported as a 409.
func AcquireAll(ctx context.Context, locker Locker, keys []string, ttl, wait time.Duration) (Lock, error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make(multiLock, 0, len(sorted))
	for _, key := range sorted {
		lock, err := locker.Acquire(ctx, key, ttl, wait)
		if err != nil {
			_ = held.Release(ctx)
			if errors.Is(err, ErrLockTimeout) {
				return nil, httperror.NewHTTPError(http.StatusConflict, "resource is locked by another operation, retry later")
			}
			return nil, err
		}
		held = append(held, lock)
	}
	return held, nil
}

type multiLock []Lock

// Release releases in reverse acquisition order and returns the first failure.
func (m multiLock) Release(ctx context.Context) error {
	var first error
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// KeepAlive renews lock every ttl/3 until the returned stop is called. Locks without expiry are
// left alone. When a renewal fails, onLost receives the error and renewal ends.
func KeepAlive(ctx context.Context, lock Lock, ttl time.Duration, onLost func(error)) (stop func()) {
	ext, ok := lock.(Extender)
	if !ok || ttl <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ext.Extend(ctx, ttl); err != nil {
					if onLost != nil {
						onLost(err)
					}
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-exited
		})
	}
}
