package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// CredentialStore persists one token record per (user, provider).
type CredentialStore interface {
	Put(ctx context.Context, record TokenRecord) (TokenRecord, error)
	Get(ctx context.Context, userEmail string, provider string) (TokenRecord, bool, error)
	GetValid(ctx context.Context, userEmail string, provider string) (TokenRecord, bool, error)
	Delete(ctx context.Context, userEmail string, provider string) error
	ListUsers(ctx context.Context, provider string) ([]string, error)
}

// ExpiringCredentialLister is implemented by stores that can feed background refresh.
type ExpiringCredentialLister interface {
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]TokenRecord, error)
}

type ActivityLog interface {
	Log(ctx context.Context, entry ActivityEntry) error
	List(ctx context.Context, filter ActivityFilter) ([]ActivityEntry, error)
}

// OAuthStrategy performs the remote half of the OAuth flow for one provider.
type OAuthStrategy interface {
	AuthorizeURL(cfg ProviderConfig, state string, scopes []string) (string, error)
	Exchange(ctx context.Context, cfg ProviderConfig, code string) (TokenGrant, error)
	Refresh(ctx context.Context, cfg ProviderConfig, refreshToken string) (TokenGrant, error)
	Revoke(ctx context.Context, cfg ProviderConfig, record TokenRecord) error
	UserInfo(ctx context.Context, cfg ProviderConfig, accessToken string) (map[string]any, error)
}

// TokenSource hands connectors a usable access token without exposing storage.
type TokenSource interface {
	Token(ctx context.Context) (TokenRecord, error)
}

type TokenSourceFunc func(ctx context.Context) (TokenRecord, error)

func (f TokenSourceFunc) Token(ctx context.Context) (TokenRecord, error) {
	return f(ctx)
}

// RefreshLock serializes refresh of one credential across processes.
type RefreshLock interface {
	Acquire(ctx context.Context, key CredentialKey, ttl time.Duration) (release func(context.Context) error, err error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// Clock is swapped in tests.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
