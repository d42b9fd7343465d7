package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockPrefix    = "go-connectors:refresh_lock:"
	defaultRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired holder cannot release a lock taken over by another instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type LockOption func(*RefreshLock)

func WithLockPrefix(prefix string) LockOption {
	return func(l *RefreshLock) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			l.prefix = trimmed
		}
	}
}

func WithRetryInterval(interval time.Duration) LockOption {
	return func(l *RefreshLock) {
		if interval > 0 {
			l.retryInterval = interval
		}
	}
}

// RefreshLock is a SET NX PX lock keyed by credential.
type RefreshLock struct {
	client        redis.UniversalClient
	prefix        string
	retryInterval time.Duration
}

func NewRefreshLock(client redis.UniversalClient, opts ...LockOption) (*RefreshLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	lock := &RefreshLock{
		client:        client,
		prefix:        defaultLockPrefix,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(lock)
		}
	}
	return lock, nil
}

// Acquire blocks until the lock is taken or ctx is done. The lock expires on
// its own after ttl if the holder never releases it.
func (l *RefreshLock) Acquire(ctx context.Context, key core.CredentialKey, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("redisstore: refresh lock is not configured")
	}
	if err := key.Validate(); err != nil {
		return nil, core.NewBadInputError(err.Error())
	}
	if ttl <= 0 {
		return nil, core.NewBadInputError("refresh lock ttl must be positive")
	}
	redisKey := l.prefix + key.String()
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		acquired, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, core.NewStorageUnavailableError("refresh_lock_acquire", err)
		}
		if acquired {
			return func(releaseCtx context.Context) error {
				if err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
					return core.NewStorageUnavailableError("refresh_lock_release", err)
				}
				return nil
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ core.RefreshLock = (*RefreshLock)(nil)
