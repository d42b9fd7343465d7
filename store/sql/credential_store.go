package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/security"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type CredentialStoreOption func(*CredentialStore)

// WithSecretProvider seals access and refresh tokens before they reach the
// database. Rows written before a provider was configured are still read.
func WithSecretProvider(provider core.SecretProvider) CredentialStoreOption {
	return func(s *CredentialStore) {
		s.secrets = provider
	}
}

func WithRefreshBuffer(buffer time.Duration) CredentialStoreOption {
	return func(s *CredentialStore) {
		if buffer > 0 {
			s.buffer = buffer
		}
	}
}

func WithStoreClock(now core.Clock) CredentialStoreOption {
	return func(s *CredentialStore) {
		if now != nil {
			s.now = now
		}
	}
}

type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*tokenRecord]
	secrets core.SecretProvider
	buffer  time.Duration
	now     core.Clock
}

func NewCredentialStore(db *bun.DB, opts ...CredentialStoreOption) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tokenRecord](db, tokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}
	store := &CredentialStore{
		db:     db,
		repo:   repo,
		buffer: core.DefaultRefreshBuffer,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Put upserts the row keyed by (user_email, provider). CreatedAt and the row
// id survive updates.
func (s *CredentialStore) Put(ctx context.Context, record core.TokenRecord) (core.TokenRecord, error) {
	if s == nil || s.db == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key := record.Key()
	if err := key.Validate(); err != nil {
		return core.TokenRecord{}, core.NewBadInputError(err.Error())
	}
	if strings.TrimSpace(record.AccessToken) == "" {
		return core.TokenRecord{}, core.NewBadInputError("access token is required")
	}
	record = record.Clone()
	record.UserEmail = key.UserEmail
	record.Provider = key.Provider
	record.ExpiresAt = record.ExpiresAt.UTC()
	now := s.now().UTC()

	row, err := s.newRow(ctx, record)
	if err != nil {
		return core.TokenRecord{}, err
	}

	row.ID = uuid.NewString()
	row.CreatedAt = now
	row.UpdatedAt = now
	// One statement so concurrent first writes for a key converge on a row.
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (user_email, provider) DO UPDATE").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("expires_at = EXCLUDED.expires_at").
		Set("scopes = EXCLUDED.scopes").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		return core.TokenRecord{}, core.NewStorageUnavailableError("put", err)
	}

	record.CreatedAt = row.CreatedAt.UTC()
	record.UpdatedAt = row.UpdatedAt.UTC()
	record.Scopes = copyStrings(row.Scopes)
	return record, nil
}

func (s *CredentialStore) Get(ctx context.Context, userEmail string, provider string) (core.TokenRecord, bool, error) {
	if s == nil || s.repo == nil {
		return core.TokenRecord{}, false, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key := core.NewCredentialKey(userEmail, provider)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_email", "=", key.UserEmail),
		repository.SelectBy("provider", "=", key.Provider),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.TokenRecord{}, false, core.NewStorageUnavailableError("get", err)
	}
	if len(records) == 0 {
		return core.TokenRecord{}, false, nil
	}
	record, err := s.toDomain(ctx, records[0])
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	return record, true, nil
}

func (s *CredentialStore) GetValid(ctx context.Context, userEmail string, provider string) (core.TokenRecord, bool, error) {
	record, ok, err := s.Get(ctx, userEmail, provider)
	if err != nil || !ok {
		return core.TokenRecord{}, false, err
	}
	if !record.ValidAt(s.now(), s.buffer) {
		return core.TokenRecord{}, false, nil
	}
	return record, true, nil
}

func (s *CredentialStore) Delete(ctx context.Context, userEmail string, provider string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	key := core.NewCredentialKey(userEmail, provider)
	_, err := s.db.NewDelete().
		Model((*tokenRecord)(nil)).
		Where("user_email = ?", key.UserEmail).
		Where("provider = ?", key.Provider).
		Exec(ctx)
	if err != nil {
		return core.NewStorageUnavailableError("delete", err)
	}
	return nil
}

// ListUsers returns the users holding a currently valid credential, sorted.
// An empty provider lists across all providers.
func (s *CredentialStore) ListUsers(ctx context.Context, provider string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	cutoff := s.now().UTC().Add(s.buffer)
	query := s.db.NewSelect().
		Model((*tokenRecord)(nil)).
		Column("user_email").
		Where("?TableAlias.expires_at > ?", cutoff)
	if trimmed := normalizeKeyPart(provider); trimmed != "" {
		query = query.Where("?TableAlias.provider = ?", trimmed)
	}
	var emails []string
	if err := query.Scan(ctx, &emails); err != nil {
		return nil, core.NewStorageUnavailableError("list_users", err)
	}
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, email := range emails {
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	sort.Strings(out)
	return out, nil
}

// ListExpiring feeds background refresh: refreshable credentials expiring
// before the cutoff, soonest first.
func (s *CredentialStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.TokenRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	selectors := []repository.SelectCriteria{
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.refresh_token IS NOT NULL").
				Where("?TableAlias.refresh_token <> ''").
				Where("?TableAlias.expires_at < ?", before.UTC()).
				Where("?TableAlias.expires_at < ?", core.NoExpirySentinel)
		}),
		repository.OrderBy("expires_at ASC"),
	}
	if limit > 0 {
		selectors = append(selectors, repository.SelectPaginate(limit, 0))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, core.NewStorageUnavailableError("list_expiring", err)
	}
	out := make([]core.TokenRecord, 0, len(records))
	for _, row := range records {
		record, convErr := s.toDomain(ctx, row)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *CredentialStore) newRow(ctx context.Context, record core.TokenRecord) (*tokenRecord, error) {
	access, err := s.seal(ctx, record.AccessToken)
	if err != nil {
		return nil, err
	}
	row := &tokenRecord{
		UserEmail:   record.UserEmail,
		Provider:    record.Provider,
		AccessToken: access,
		ExpiresAt:   record.ExpiresAt,
		Scopes:      copyStrings(record.Scopes),
		Metadata:    copyAnyMap(record.Metadata),
	}
	if record.RefreshToken != "" {
		refresh, sealErr := s.seal(ctx, record.RefreshToken)
		if sealErr != nil {
			return nil, sealErr
		}
		row.RefreshToken = &refresh
	}
	return row, nil
}

func (s *CredentialStore) toDomain(ctx context.Context, row *tokenRecord) (core.TokenRecord, error) {
	if row == nil {
		return core.TokenRecord{}, nil
	}
	access, err := s.open(ctx, row.AccessToken)
	if err != nil {
		return core.TokenRecord{}, err
	}
	record := core.TokenRecord{
		UserEmail:   row.UserEmail,
		Provider:    row.Provider,
		AccessToken: access,
		ExpiresAt:   row.ExpiresAt.UTC(),
		Scopes:      copyStrings(row.Scopes),
		Metadata:    copyAnyMap(row.Metadata),
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	if row.RefreshToken != nil && *row.RefreshToken != "" {
		refresh, openErr := s.open(ctx, *row.RefreshToken)
		if openErr != nil {
			return core.TokenRecord{}, openErr
		}
		record.RefreshToken = refresh
	}
	return record, nil
}

func (s *CredentialStore) seal(ctx context.Context, value string) (string, error) {
	if s.secrets == nil || value == "" {
		return value, nil
	}
	sealed, err := s.secrets.Encrypt(ctx, []byte(value))
	if err != nil {
		return "", core.NewStorageUnavailableError("encrypt", err)
	}
	return string(sealed), nil
}

func (s *CredentialStore) open(ctx context.Context, value string) (string, error) {
	if s.secrets == nil || !security.IsSealed([]byte(value)) {
		return value, nil
	}
	plaintext, err := s.secrets.Decrypt(ctx, []byte(value))
	if err != nil {
		return "", core.NewStorageUnavailableError("decrypt", err)
	}
	return string(plaintext), nil
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func normalizeKeyPart(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
