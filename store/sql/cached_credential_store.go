package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-connectors/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const credentialCacheKeyPrefix = "go-connectors::oauth_token::v1"

// CachedCredentialStore puts a read-through cache in front of Get and
// GetValid. Writes go to the base store first and then advance the key's
// generation, so a fetch that started before the write caches under a key no
// later read uses. Generations are process local; run one cache per process.
type CachedCredentialStore struct {
	base   core.CredentialStore
	cache  repositorycache.CacheService
	buffer time.Duration
	now    core.Clock

	mu          sync.Mutex
	generations map[string]uint64
}

// cachedToken lets a miss be cached alongside a hit.
type cachedToken struct {
	Record core.TokenRecord
	Found  bool
}

func NewCachedCredentialStore(
	base core.CredentialStore,
	cacheService repositorycache.CacheService,
	opts ...CredentialStoreOption,
) (*CachedCredentialStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base credential store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: credential cache service is required")
	}
	settings := &CredentialStore{
		buffer: core.DefaultRefreshBuffer,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}
	return &CachedCredentialStore{
		base:        base,
		cache:       cacheService,
		buffer:      settings.buffer,
		now:         settings.now,
		generations: map[string]uint64{},
	}, nil
}

// CredentialCacheKey is go-connectors::oauth_token::v1::<provider>::<user_email>
// with each segment URL-path escaped after normalization.
func CredentialCacheKey(userEmail string, provider string) (string, error) {
	key := core.NewCredentialKey(userEmail, provider)
	if err := key.Validate(); err != nil {
		return "", core.NewBadInputError(err.Error())
	}
	return strings.Join([]string{
		credentialCacheKeyPrefix,
		url.PathEscape(key.Provider),
		url.PathEscape(key.UserEmail),
	}, "::"), nil
}

func (s *CachedCredentialStore) Put(ctx context.Context, record core.TokenRecord) (core.TokenRecord, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenRecord{}, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	saved, err := s.base.Put(ctx, record)
	if err != nil {
		return core.TokenRecord{}, err
	}
	if err := s.invalidate(ctx, saved.UserEmail, saved.Provider); err != nil {
		return core.TokenRecord{}, err
	}
	return saved, nil
}

func (s *CachedCredentialStore) Get(ctx context.Context, userEmail string, provider string) (core.TokenRecord, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenRecord{}, false, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	baseKey, err := CredentialCacheKey(userEmail, provider)
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	cacheKey := s.currentKey(baseKey)
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedToken, error) {
		record, found, fetchErr := s.base.Get(ctx, userEmail, provider)
		if fetchErr != nil {
			return cachedToken{}, fetchErr
		}
		return cachedToken{Record: record.Clone(), Found: found}, nil
	})
	if err != nil {
		return core.TokenRecord{}, false, err
	}
	if !entry.Found {
		return core.TokenRecord{}, false, nil
	}
	return entry.Record.Clone(), true, nil
}

// GetValid applies the expiry check on the cached copy so a cached record
// still ages out of validity.
func (s *CachedCredentialStore) GetValid(ctx context.Context, userEmail string, provider string) (core.TokenRecord, bool, error) {
	record, ok, err := s.Get(ctx, userEmail, provider)
	if err != nil || !ok {
		return core.TokenRecord{}, false, err
	}
	if !record.ValidAt(s.now(), s.buffer) {
		return core.TokenRecord{}, false, nil
	}
	return record, true, nil
}

func (s *CachedCredentialStore) Delete(ctx context.Context, userEmail string, provider string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	if err := s.base.Delete(ctx, userEmail, provider); err != nil {
		return err
	}
	return s.invalidate(ctx, userEmail, provider)
}

func (s *CachedCredentialStore) ListUsers(ctx context.Context, provider string) ([]string, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached credential store is not configured")
	}
	return s.base.ListUsers(ctx, provider)
}

func (s *CachedCredentialStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]core.TokenRecord, error) {
	lister, ok := s.base.(core.ExpiringCredentialLister)
	if !ok {
		return nil, fmt.Errorf("sqlstore: base credential store cannot list expiring credentials")
	}
	return lister.ListExpiring(ctx, before, limit)
}

func (s *CachedCredentialStore) invalidate(ctx context.Context, userEmail string, provider string) error {
	baseKey, err := CredentialCacheKey(userEmail, provider)
	if err != nil {
		return err
	}
	s.mu.Lock()
	previous := s.generations[baseKey]
	s.generations[baseKey] = previous + 1
	s.mu.Unlock()
	return s.cache.Delete(ctx, generationKey(baseKey, previous))
}

func (s *CachedCredentialStore) currentKey(baseKey string) string {
	s.mu.Lock()
	generation := s.generations[baseKey]
	s.mu.Unlock()
	return generationKey(baseKey, generation)
}

func generationKey(baseKey string, generation uint64) string {
	return fmt.Sprintf("%s::g%d", baseKey, generation)
}
