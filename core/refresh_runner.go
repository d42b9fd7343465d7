package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultRefreshLockTTL = 30 * time.Second

// keyedFlight runs at most one call per key. The shared call is detached from
// the caller that started it and bounded by timeout; every waiter may stop
// waiting on its own context without cancelling the others.
type keyedFlight[T any] struct {
	group   singleflight.Group
	timeout time.Duration
}

func newKeyedFlight[T any](timeout time.Duration) *keyedFlight[T] {
	return &keyedFlight[T]{timeout: timeout}
}

func (f *keyedFlight[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	detached := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		runCtx := detached
		if f.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(detached, f.timeout)
			defer cancel()
		}
		return fn(runCtx)
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		value, _ := res.Val.(T)
		return value, res.Shared, res.Err
	}
}

func (f *keyedFlight[T]) Forget(key string) {
	f.group.Forget(key)
}

// keyedMutex serializes writers of one credential inside this process. The
// distributed RefreshLock, when wired, is always taken first.
type keyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{slots: map[string]*keySlot{}}
}

func (m *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	slot, ok := m.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		m.slots[key] = slot
	}
	slot.refs++
	m.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			m.release(key, slot)
		})
	}, nil
}

func (m *keyedMutex) release(key string, slot *keySlot) {
	m.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(m.slots, key)
	}
	m.mu.Unlock()
}

type noopRefreshLock struct{}

func (noopRefreshLock) Acquire(context.Context, CredentialKey, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

var _ RefreshLock = noopRefreshLock{}
