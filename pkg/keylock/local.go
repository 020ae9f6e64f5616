package keylock

import (
	"context"
	"sync"
	"time"
)

// Local locks keys inside this process. ttl is ignored; a holder keeps the key until Release.
type Local struct {
	mu   sync.Mutex
	keys map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{keys: map[string]*entry{}}
}

func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration, wait time.Duration) (Lock, error) {
	e := l.ref(key)

	select {
	case e.ch <- struct{}{}:
		return &localLock{owner: l, key: key, e: e}, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return &localLock{owner: l, key: key, e: e}, nil
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	case <-timer.C:
		l.unref(key, e)
		return nil, ErrLockTimeout
	}
}

func (l *Local) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.keys[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.keys[key] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.keys, key)
	}
}

type localLock struct {
	owner *Local
	key   string
	e     *entry
	once  sync.Once
}

func (k *localLock) Release(context.Context) error {
	k.once.Do(func() {
		<-k.e.ch
		k.owner.unref(k.key, k.e)
	})
	return nil
}
