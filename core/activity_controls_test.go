package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type blockingActivityLog struct {
	MemoryActivityLog
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingActivityLog() *blockingActivityLog {
	return &blockingActivityLog{entered: make(chan struct{}), release: make(chan struct{})}
}

func (l *blockingActivityLog) Log(ctx context.Context, entry ActivityEntry) error {
	l.once.Do(func() {
		close(l.entered)
		<-l.release
	})
	return l.MemoryActivityLog.Log(ctx, entry)
}

func TestAsyncActivityLog_WritesInOrderAndFlushesOnClose(t *testing.T) {
	primary := NewMemoryActivityLog()
	log, err := NewAsyncActivityLog(primary, 16, 0, stubLogger{})
	if err != nil {
		t.Fatalf("new async log: %v", err)
	}
	ctx := context.Background()
	for _, action := range []string{ActivityOAuthSuccess, ActivityTokenRefreshed, ActivityTokensRevoked} {
		if err := log.Log(ctx, ActivityEntry{UserEmail: "Ada@Example.com", Provider: "Google", Action: action}); err != nil {
			t.Fatalf("log %s: %v", action, err)
		}
	}
	log.Close()

	entries, err := log.List(ctx, ActivityFilter{UserEmail: "ada@example.com"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected all queued entries flushed, got %d", len(entries))
	}
	if entries[2].Action != ActivityOAuthSuccess || entries[0].Action != ActivityTokensRevoked {
		t.Fatalf("expected submission order preserved, got %+v", entries)
	}
	if entries[0].Provider != "google" {
		t.Fatalf("expected normalized provider, got %q", entries[0].Provider)
	}
	if err := log.Log(ctx, ActivityEntry{Action: ActivityOAuthSuccess}); err == nil {
		t.Fatalf("expected closed log to reject entries")
	}
}

func TestAsyncActivityLog_DropsWhenQueueStaysFull(t *testing.T) {
	primary := newBlockingActivityLog()
	log, err := NewAsyncActivityLog(primary, 1, 10*time.Millisecond, stubLogger{})
	if err != nil {
		t.Fatalf("new async log: %v", err)
	}
	ctx := context.Background()

	if err := log.Log(ctx, ActivityEntry{UserEmail: "ada@example.com", Provider: "google", Action: "first"}); err != nil {
		t.Fatalf("log first: %v", err)
	}
	<-primary.entered
	if err := log.Log(ctx, ActivityEntry{UserEmail: "ada@example.com", Provider: "google", Action: "second"}); err != nil {
		t.Fatalf("log second: %v", err)
	}

	started := time.Now()
	if err := log.Log(ctx, ActivityEntry{UserEmail: "ada@example.com", Provider: "google", Action: "third"}); err != nil {
		t.Fatalf("dropping must not surface an error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("expected bounded enqueue wait, took %s", elapsed)
	}
	if log.Dropped() != 1 {
		t.Fatalf("expected one dropped entry, got %d", log.Dropped())
	}

	close(primary.release)
	log.Close()
	entries, _ := primary.List(ctx, ActivityFilter{})
	if len(entries) != 2 {
		t.Fatalf("expected two written entries, got %d", len(entries))
	}
}

func TestNewAsyncActivityLog_RequiresPrimary(t *testing.T) {
	if _, err := NewAsyncActivityLog(nil, 1, 0, nil); err == nil {
		t.Fatalf("expected missing primary to fail")
	}
}

func TestAsyncActivityLog_AcceptedEntriesSurviveConcurrentClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		primary := NewMemoryActivityLog()
		log, err := NewAsyncActivityLog(primary, 512, 0, stubLogger{})
		if err != nil {
			t.Fatalf("new async log: %v", err)
		}
		ctx := context.Background()

		const senders = 16
		var accepted sync.WaitGroup
		var mu sync.Mutex
		count := 0
		start := make(chan struct{})
		accepted.Add(senders)
		for i := 0; i < senders; i++ {
			go func() {
				defer accepted.Done()
				<-start
				for j := 0; j < 8; j++ {
					if err := log.Log(ctx, ActivityEntry{UserEmail: "ada@example.com", Provider: "google", Action: ActivityTokenRefreshed}); err == nil {
						mu.Lock()
						count++
						mu.Unlock()
					}
				}
			}()
		}
		close(start)
		log.Close()
		accepted.Wait()

		entries, err := primary.List(ctx, ActivityFilter{})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if log.Dropped() != 0 {
			t.Fatalf("round %d: unexpected drops %d", round, log.Dropped())
		}
		if len(entries) != count {
			t.Fatalf("round %d: accepted %d entries but %d were written", round, count, len(entries))
		}
	}
}
