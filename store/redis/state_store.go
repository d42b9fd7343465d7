// Package redisstore keeps OAuth state and refresh locks in Redis so several
// service instances can share an authorization flow and a refresh.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/redis/go-redis/v9"
)

const (
	defaultStatePrefix = "go-connectors:oauth_state:"
	defaultStateTTL    = 15 * time.Minute
)

type StateOption func(*StateStore)

func WithStatePrefix(prefix string) StateOption {
	return func(s *StateStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

func WithStateTTL(ttl time.Duration) StateOption {
	return func(s *StateStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithStateClock(now core.Clock) StateOption {
	return func(s *StateStore) {
		if now != nil {
			s.now = now
		}
	}
}

type StateStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    core.Clock
}

type stateRecord struct {
	State     string    `json:"state"`
	Provider  string    `json:"provider"`
	UserEmail string    `json:"user_email"`
	Scopes    []string  `json:"scopes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewStateStore(client redis.UniversalClient, opts ...StateOption) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &StateStore{
		client: client,
		prefix: defaultStatePrefix,
		ttl:    defaultStateTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Save writes the record with a Redis expiry matching ExpiresAt.
func (s *StateStore) Save(ctx context.Context, record core.OAuthStateRecord) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: state store is not configured")
	}
	if strings.TrimSpace(record.State) == "" {
		return fmt.Errorf("redisstore: oauth state is required")
	}
	now := s.now()
	record = core.PrepareOAuthState(record, now, s.ttl)
	ttl := record.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return core.ErrOAuthStateExpired
	}

	payload, err := json.Marshal(stateRecord{
		State:     record.State,
		Provider:  record.Provider,
		UserEmail: record.UserEmail,
		Scopes:    record.Scopes,
		CreatedAt: record.CreatedAt.UTC(),
		ExpiresAt: record.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("redisstore: encode oauth state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(record.State), payload, ttl).Err(); err != nil {
		return core.NewStorageUnavailableError("oauth_state_save", err)
	}
	return nil
}

// Consume reads and deletes the state in one GETDEL, so a state is only
// ever honored once across instances.
func (s *StateStore) Consume(ctx context.Context, state string) (core.OAuthStateRecord, error) {
	if s == nil || s.client == nil {
		return core.OAuthStateRecord{}, fmt.Errorf("redisstore: state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return core.OAuthStateRecord{}, fmt.Errorf("redisstore: oauth state is required")
	}

	raw, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.OAuthStateRecord{}, core.ErrOAuthStateNotFound
	}
	if err != nil {
		return core.OAuthStateRecord{}, core.NewStorageUnavailableError("oauth_state_consume", err)
	}

	var decoded stateRecord
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return core.OAuthStateRecord{}, fmt.Errorf("redisstore: decode oauth state: %w", err)
	}
	if !decoded.ExpiresAt.IsZero() && s.now().After(decoded.ExpiresAt) {
		return core.OAuthStateRecord{}, core.ErrOAuthStateExpired
	}
	return core.OAuthStateRecord{
		State:     decoded.State,
		Provider:  decoded.Provider,
		UserEmail: decoded.UserEmail,
		Scopes:    append([]string(nil), decoded.Scopes...),
		CreatedAt: decoded.CreatedAt,
		ExpiresAt: decoded.ExpiresAt,
	}, nil
}

func (s *StateStore) key(state string) string {
	return s.prefix + state
}

var _ core.OAuthStateStore = (*StateStore)(nil)
