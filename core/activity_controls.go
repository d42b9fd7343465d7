package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// AsyncActivityLog queues entries for a single writer goroutine so callers never
// wait on storage and entries keep their submission order.
type AsyncActivityLog struct {
	primary        ActivityLog
	telemetry      telemetry
	enqueueTimeout time.Duration

	queue   chan ActivityEntry
	now     Clock
	dropped atomic.Int64

	// mu is held shared by senders and exclusively by Close, so nothing is
	// enqueued once the writer starts its final drain.
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewAsyncActivityLog(
	primary ActivityLog,
	bufferSize int,
	enqueueTimeout time.Duration,
	logger Logger,
) (*AsyncActivityLog, error) {
	if primary == nil {
		return nil, fmt.Errorf("core: primary activity log is required")
	}
	if bufferSize <= 0 {
		bufferSize = 128
	}
	if enqueueTimeout < 0 {
		enqueueTimeout = 0
	}

	log := &AsyncActivityLog{
		primary:        primary,
		telemetry:      newTelemetry("connectors", logger, nil),
		enqueueTimeout: enqueueTimeout,
		queue:          make(chan ActivityEntry, bufferSize),
		now:            systemClock,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	go log.run()
	return log, nil
}

func (l *AsyncActivityLog) Log(ctx context.Context, entry ActivityEntry) error {
	if l == nil || l.primary == nil {
		return fmt.Errorf("core: activity log is not configured")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	entry.UserEmail = normalizeEmail(entry.UserEmail)
	entry.Provider = normalizeProvider(entry.Provider)
	entry.Details = copyAnyMap(entry.Details)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return fmt.Errorf("core: activity log is closed")
	}

	select {
	case l.queue <- entry:
		return nil
	default:
	}

	if l.enqueueTimeout <= 0 {
		l.drop(ctx, entry)
		return nil
	}
	timer := time.NewTimer(l.enqueueTimeout)
	defer timer.Stop()
	select {
	case l.queue <- entry:
		return nil
	case <-ctx.Done():
		l.drop(ctx, entry)
		return nil
	case <-timer.C:
		l.drop(ctx, entry)
		return nil
	}
}

func (l *AsyncActivityLog) List(ctx context.Context, filter ActivityFilter) ([]ActivityEntry, error) {
	if l == nil || l.primary == nil {
		return nil, fmt.Errorf("core: activity log is not configured")
	}
	return l.primary.List(ctx, filter)
}

// Dropped reports how many entries were discarded because the queue stayed full.
func (l *AsyncActivityLog) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close stops accepting entries and writes whatever is still queued.
func (l *AsyncActivityLog) Close() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		close(l.stopCh)
		<-l.doneCh
	})
}

func (l *AsyncActivityLog) drop(ctx context.Context, entry ActivityEntry) {
	total := l.dropped.Add(1)
	l.telemetry.logWarn(ctx, "activity entry dropped", map[string]any{
		"provider":      entry.Provider,
		"user_email":    entry.UserEmail,
		"action":        entry.Action,
		"dropped_total": total,
	})
}

func (l *AsyncActivityLog) run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			for {
				select {
				case entry := <-l.queue:
					l.write(entry)
				default:
					return
				}
			}
		case entry := <-l.queue:
			l.write(entry)
		}
	}
}

func (l *AsyncActivityLog) write(entry ActivityEntry) {
	if err := l.primary.Log(context.Background(), entry); err != nil {
		l.telemetry.logError(context.Background(), "activity entry write failed", map[string]any{
			"provider":   entry.Provider,
			"user_email": entry.UserEmail,
			"action":     entry.Action,
			"error":      err.Error(),
		})
	}
}

var _ ActivityLog = (*AsyncActivityLog)(nil)
