package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultOAuthStateTTL = 15 * time.Minute

var (
	ErrOAuthStateNotFound = errors.New("core: oauth state not found")
	ErrOAuthStateExpired  = errors.New("core: oauth state expired")
)

type OAuthStateRecord struct {
	State     string
	Provider  string
	UserEmail string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type OAuthStateStore interface {
	Save(ctx context.Context, record OAuthStateRecord) error
	// Consume returns the record once; later calls report ErrOAuthStateNotFound.
	Consume(ctx context.Context, state string) (OAuthStateRecord, error)
}

type MemoryOAuthStateStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     Clock
	entries map[string]OAuthStateRecord
}

func NewMemoryOAuthStateStore(ttl time.Duration) *MemoryOAuthStateStore {
	if ttl <= 0 {
		ttl = defaultOAuthStateTTL
	}
	return &MemoryOAuthStateStore{
		ttl:     ttl,
		now:     systemClock,
		entries: map[string]OAuthStateRecord{},
	}
}

func (s *MemoryOAuthStateStore) Save(_ context.Context, record OAuthStateRecord) error {
	if s == nil {
		return fmt.Errorf("core: oauth state store is not configured")
	}
	state := strings.TrimSpace(record.State)
	if state == "" {
		return fmt.Errorf("core: oauth state is required")
	}
	record = PrepareOAuthState(record, s.now(), s.ttl)

	s.mu.Lock()
	s.pruneLocked(s.now())
	s.entries[state] = cloneOAuthStateRecord(record)
	s.mu.Unlock()
	return nil
}

func (s *MemoryOAuthStateStore) Consume(_ context.Context, state string) (OAuthStateRecord, error) {
	if s == nil {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return OAuthStateRecord{}, fmt.Errorf("core: oauth state is required")
	}

	s.mu.Lock()
	record, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()

	if !ok {
		return OAuthStateRecord{}, ErrOAuthStateNotFound
	}
	if !record.ExpiresAt.IsZero() && s.now().After(record.ExpiresAt) {
		return OAuthStateRecord{}, ErrOAuthStateExpired
	}
	return cloneOAuthStateRecord(record), nil
}

func (s *MemoryOAuthStateStore) pruneLocked(now time.Time) {
	for key, record := range s.entries {
		if !record.ExpiresAt.IsZero() && now.After(record.ExpiresAt) {
			delete(s.entries, key)
		}
	}
}

// PrepareOAuthState fills timestamps and normalizes keys before a record is stored.
func PrepareOAuthState(record OAuthStateRecord, now time.Time, ttl time.Duration) OAuthStateRecord {
	if ttl <= 0 {
		ttl = defaultOAuthStateTTL
	}
	record.State = strings.TrimSpace(record.State)
	record.Provider = normalizeProvider(record.Provider)
	record.UserEmail = normalizeEmail(record.UserEmail)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now.UTC()
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(ttl)
	}
	return record
}

func GenerateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func cloneOAuthStateRecord(record OAuthStateRecord) OAuthStateRecord {
	cloned := record
	cloned.Scopes = append([]string(nil), record.Scopes...)
	return cloned
}

var _ OAuthStateStore = (*MemoryOAuthStateStore)(nil)
