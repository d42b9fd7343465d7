package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryCredentialStore is the in-process CredentialStore used by tests and single-node setups.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	buffer  time.Duration
	now     Clock
	records map[CredentialKey]TokenRecord
}

func NewMemoryCredentialStore(buffer time.Duration) *MemoryCredentialStore {
	if buffer <= 0 {
		buffer = DefaultRefreshBuffer
	}
	return &MemoryCredentialStore{
		buffer:  buffer,
		now:     systemClock,
		records: map[CredentialKey]TokenRecord{},
	}
}

func (s *MemoryCredentialStore) Put(_ context.Context, record TokenRecord) (TokenRecord, error) {
	key := record.Key()
	if err := key.Validate(); err != nil {
		return TokenRecord{}, NewBadInputError(err.Error())
	}
	record = record.Clone()
	record.UserEmail = key.UserEmail
	record.Provider = key.Provider
	record.ExpiresAt = record.ExpiresAt.UTC()
	record.Scopes = normalizeScopes(record.Scopes)

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[key]; ok && !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	} else if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.records[key] = record
	return record.Clone(), nil
}

func (s *MemoryCredentialStore) Get(_ context.Context, userEmail string, provider string) (TokenRecord, bool, error) {
	key := NewCredentialKey(userEmail, provider)
	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return TokenRecord{}, false, nil
	}
	return record.Clone(), true, nil
}

func (s *MemoryCredentialStore) GetValid(ctx context.Context, userEmail string, provider string) (TokenRecord, bool, error) {
	record, ok, err := s.Get(ctx, userEmail, provider)
	if err != nil || !ok {
		return TokenRecord{}, false, err
	}
	if !record.ValidAt(s.now(), s.buffer) {
		return TokenRecord{}, false, nil
	}
	return record, true, nil
}

func (s *MemoryCredentialStore) Delete(_ context.Context, userEmail string, provider string) error {
	key := NewCredentialKey(userEmail, provider)
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryCredentialStore) ListUsers(_ context.Context, provider string) ([]string, error) {
	provider = normalizeProvider(provider)
	now := s.now()
	seen := map[string]struct{}{}
	s.mu.RLock()
	for key, record := range s.records {
		if provider != "" && key.Provider != provider {
			continue
		}
		if !record.ValidAt(now, s.buffer) {
			continue
		}
		seen[key.UserEmail] = struct{}{}
	}
	s.mu.RUnlock()
	return sortedKeys(seen), nil
}

func (s *MemoryCredentialStore) ListExpiring(_ context.Context, before time.Time, limit int) ([]TokenRecord, error) {
	s.mu.RLock()
	out := make([]TokenRecord, 0)
	for _, record := range s.records {
		if !record.HasRefreshToken() || record.NeverExpires() {
			continue
		}
		if record.ExpiresAt.Before(before) {
			out = append(out, record.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryActivityLog struct {
	mu      sync.RWMutex
	nextID  int64
	entries []ActivityEntry
}

func NewMemoryActivityLog() *MemoryActivityLog {
	return &MemoryActivityLog{}
}

func (l *MemoryActivityLog) Log(_ context.Context, entry ActivityEntry) error {
	if strings.TrimSpace(entry.Action) == "" {
		return NewBadInputError("activity action is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = systemClock()
	}
	entry.Details = copyAnyMap(entry.Details)

	l.mu.Lock()
	l.nextID++
	entry.ID = l.nextID
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// List returns matching entries newest first.
func (l *MemoryActivityLog) List(_ context.Context, filter ActivityFilter) ([]ActivityEntry, error) {
	user := normalizeEmail(filter.UserEmail)
	provider := normalizeProvider(filter.Provider)
	action := strings.TrimSpace(filter.Action)

	l.mu.RLock()
	matched := make([]ActivityEntry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		entry := l.entries[i]
		if user != "" && normalizeEmail(entry.UserEmail) != user {
			continue
		}
		if provider != "" && normalizeProvider(entry.Provider) != provider {
			continue
		}
		if action != "" && entry.Action != action {
			continue
		}
		entry.Details = copyAnyMap(entry.Details)
		matched = append(matched, entry)
	}
	l.mu.RUnlock()
	return paginateActivity(matched, filter.Limit, filter.Offset), nil
}

func paginateActivity(entries []ActivityEntry, limit int, offset int) []ActivityEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []ActivityEntry{}
	}
	entries = entries[offset:]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

var (
	_ CredentialStore          = (*MemoryCredentialStore)(nil)
	_ ExpiringCredentialLister = (*MemoryCredentialStore)(nil)
	_ ActivityLog              = (*MemoryActivityLog)(nil)
)
