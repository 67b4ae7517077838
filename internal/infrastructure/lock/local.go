package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
)

// LocalLocker serializes work per key inside a single process. It is used
// when no Redis URL is configured.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
	wait  time.Duration
}

type entry struct {
	ch      chan struct{}
	waiters int
}

// NewLocalLocker gives up after wait. Zero waits as long as ctx allows.
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry), wait: wait}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.waiters++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		l.mu.Lock()
		l.drop(key, e)
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %w", application.ErrLockNotAcquired, key, ctx.Err())
	}
}

func (l *LocalLocker) release(key string, e *entry) {
	<-e.ch
	l.mu.Lock()
	l.drop(key, e)
	l.mu.Unlock()
}

// drop forgets the entry once nobody holds or waits for it. Caller holds l.mu.
func (l *LocalLocker) drop(key string, e *entry) {
	e.waiters--
	if e.waiters == 0 {
		delete(l.locks, key)
	}
}
