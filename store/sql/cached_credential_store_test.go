package sqlstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

type stubCredentialStore struct {
	mu        sync.Mutex
	records   map[string]core.TokenRecord
	getCalls  int
	getErr    error
	fetchGate chan struct{}
	fetching  chan struct{}
}

func newStubCredentialStore() *stubCredentialStore {
	return &stubCredentialStore{records: map[string]core.TokenRecord{}}
}

func (s *stubCredentialStore) Put(_ context.Context, record core.TokenRecord) (core.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.NewCredentialKey(record.UserEmail, record.Provider)
	record.UserEmail = key.UserEmail
	record.Provider = key.Provider
	s.records[key.String()] = record.Clone()
	return record.Clone(), nil
}

// Get blocks on fetchGate for the first call only, after signalling fetching.
func (s *stubCredentialStore) Get(_ context.Context, userEmail string, provider string) (core.TokenRecord, bool, error) {
	s.mu.Lock()
	s.getCalls++
	first := s.getCalls == 1
	s.mu.Unlock()

	var snapshot core.TokenRecord
	var found bool
	if first && s.fetchGate != nil {
		snapshot, found = s.lookup(userEmail, provider)
		close(s.fetching)
		<-s.fetchGate
		return snapshot, found, nil
	}
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	snapshot, found = s.lookup(userEmail, provider)
	return snapshot, found, nil
}

func (s *stubCredentialStore) lookup(userEmail string, provider string) (core.TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[core.NewCredentialKey(userEmail, provider).String()]
	return record.Clone(), ok
}

func (s *stubCredentialStore) GetValid(ctx context.Context, userEmail string, provider string) (core.TokenRecord, bool, error) {
	return s.Get(ctx, userEmail, provider)
}

func (s *stubCredentialStore) Delete(_ context.Context, userEmail string, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, core.NewCredentialKey(userEmail, provider).String())
	return nil
}

func (s *stubCredentialStore) ListUsers(context.Context, string) ([]string, error) {
	return nil, nil
}

func (s *stubCredentialStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

func cacheTestRecord(access string, expiresAt time.Time) core.TokenRecord {
	return core.TokenRecord{
		UserEmail:    "ada@example.com",
		Provider:     "google",
		AccessToken:  access,
		RefreshToken: access + "-refresh",
		ExpiresAt:    expiresAt,
	}
}

func TestCachedCredentialStore_Get_MissFetchThenHit(t *testing.T) {
	base := newStubCredentialStore()
	ctx := context.Background()
	if _, err := base.Put(ctx, cacheTestRecord("access-1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store, err := NewCachedCredentialStore(base, newTestCredentialCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	for i := 0; i < 2; i++ {
		record, ok, err := store.Get(ctx, "ada@example.com", "google")
		if err != nil || !ok || record.AccessToken != "access-1" {
			t.Fatalf("get %d: record=%+v ok=%v err=%v", i, record, ok, err)
		}
	}
	if calls := base.calls(); calls != 1 {
		t.Fatalf("expected second get to be a cache hit, base get calls=%d", calls)
	}
}

func TestCachedCredentialStore_PutAndDeleteInvalidate(t *testing.T) {
	base := newStubCredentialStore()
	ctx := context.Background()
	store, err := NewCachedCredentialStore(base, newTestCredentialCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	if _, ok, err := store.Get(ctx, "ada@example.com", "google"); err != nil || ok {
		t.Fatalf("expected cached miss, ok=%v err=%v", ok, err)
	}
	if _, err := store.Put(ctx, cacheTestRecord("access-2", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("put: %v", err)
	}
	record, ok, err := store.Get(ctx, "ada@example.com", "google")
	if err != nil || !ok || record.AccessToken != "access-2" {
		t.Fatalf("expected put to replace the cached miss, record=%+v ok=%v err=%v", record, ok, err)
	}

	if err := store.Delete(ctx, "ada@example.com", "google"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Get(ctx, "ada@example.com", "google"); err != nil || ok {
		t.Fatalf("expected deleted credential absent, ok=%v err=%v", ok, err)
	}
}

func TestCachedCredentialStore_FetchRacingPutDoesNotCacheSupersededRecord(t *testing.T) {
	base := newStubCredentialStore()
	ctx := context.Background()
	if _, err := base.Put(ctx, cacheTestRecord("old", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	base.fetchGate = make(chan struct{})
	base.fetching = make(chan struct{})
	store, err := NewCachedCredentialStore(base, newTestCredentialCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	done := make(chan core.TokenRecord, 1)
	go func() {
		record, _, _ := store.Get(ctx, "ada@example.com", "google")
		done <- record
	}()
	<-base.fetching

	if _, err := store.Put(ctx, cacheTestRecord("new", time.Now().Add(2*time.Hour))); err != nil {
		t.Fatalf("put: %v", err)
	}
	close(base.fetchGate)
	if record := <-done; record.AccessToken != "old" {
		t.Fatalf("expected in-flight read to see the value it fetched, got %q", record.AccessToken)
	}

	record, ok, err := store.Get(ctx, "ada@example.com", "google")
	if err != nil || !ok {
		t.Fatalf("get after put: ok=%v err=%v", ok, err)
	}
	if record.AccessToken != "new" || record.RefreshToken != "new-refresh" {
		t.Fatalf("expected record written by put, got %+v", record)
	}
}

func TestCachedCredentialStore_FetchRacingDeleteDoesNotResurrect(t *testing.T) {
	base := newStubCredentialStore()
	ctx := context.Background()
	if _, err := base.Put(ctx, cacheTestRecord("revoked", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	base.fetchGate = make(chan struct{})
	base.fetching = make(chan struct{})
	store, err := NewCachedCredentialStore(base, newTestCredentialCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_, _, _ = store.Get(ctx, "ada@example.com", "google")
		close(done)
	}()
	<-base.fetching
	if err := store.Delete(ctx, "ada@example.com", "google"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	close(base.fetchGate)
	<-done

	if _, ok, err := store.GetValid(ctx, "ada@example.com", "google"); err != nil || ok {
		t.Fatalf("expected revoked credential to stay absent, ok=%v err=%v", ok, err)
	}
}

func TestCachedCredentialStore_GetValidAgesCachedRecord(t *testing.T) {
	base := newStubCredentialStore()
	ctx := context.Background()
	now := time.Now().UTC()
	if _, err := base.Put(ctx, cacheTestRecord("access-1", now.Add(10*time.Minute))); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clock := newFixedClock(now)
	store, err := NewCachedCredentialStore(base, newTestCredentialCacheService(t),
		WithRefreshBuffer(5*time.Minute),
		WithStoreClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	if _, ok, err := store.GetValid(ctx, "ada@example.com", "google"); err != nil || !ok {
		t.Fatalf("expected valid credential, ok=%v err=%v", ok, err)
	}
	clock.Advance(6 * time.Minute)
	if _, ok, err := store.GetValid(ctx, "ada@example.com", "google"); err != nil || ok {
		t.Fatalf("expected cached record inside the buffer to be invalid, ok=%v err=%v", ok, err)
	}
	if calls := base.calls(); calls != 1 {
		t.Fatalf("expected validity checked on the cached copy, base get calls=%d", calls)
	}
}

func TestCredentialCacheKey_Contract(t *testing.T) {
	key, err := CredentialCacheKey(" Ada@Example.com ", " Google ")
	if err != nil {
		t.Fatalf("cache key: %v", err)
	}
	if key != "go-connectors::oauth_token::v1::google::ada@example.com" {
		t.Fatalf("unexpected cache key %q", key)
	}
	if _, err := CredentialCacheKey("", "google"); err == nil {
		t.Fatalf("expected missing user email to fail")
	}
}

func TestCachedCredentialStore_PropagatesBaseErrors(t *testing.T) {
	base := newStubCredentialStore()
	base.getErr = errors.New("database is locked")
	store, err := NewCachedCredentialStore(base, newTestCredentialCacheService(t))
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	_, _, err = store.Get(context.Background(), "ada@example.com", "google")
	if err == nil || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected base error, got %v", err)
	}
}

func newTestCredentialCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}
