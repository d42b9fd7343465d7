package core

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// OAuthCoordinator owns the credential lifecycle: authorize, exchange, refresh,
// validate and revoke. It is the only component that writes TokenRecords.
type OAuthCoordinator struct {
	registry       *ProviderRegistry
	store          CredentialStore
	activity       ActivityLog
	lock           RefreshLock
	telemetry      telemetry
	buffer         time.Duration
	refreshTimeout time.Duration
	now            Clock
	flight         *keyedFlight[TokenRecord]
	writers        *keyedMutex
}

type CoordinatorConfig struct {
	Registry       *ProviderRegistry
	Store          CredentialStore
	Activity       ActivityLog
	Lock           RefreshLock
	Logger         Logger
	Metrics        MetricsRecorder
	RefreshBuffer  time.Duration
	RefreshTimeout time.Duration
	Clock          Clock
}

// ExchangeResult is the persisted record plus whatever the userinfo endpoint returned.
type ExchangeResult struct {
	Record   TokenRecord
	UserInfo map[string]any
}

func NewOAuthCoordinator(cfg CoordinatorConfig) (*OAuthCoordinator, error) {
	if cfg.Registry == nil {
		return nil, NewBadInputError("provider registry is required")
	}
	if cfg.Store == nil {
		return nil, NewBadInputError("credential store is required")
	}
	if cfg.Activity == nil {
		cfg.Activity = NewMemoryActivityLog()
	}
	if cfg.Lock == nil {
		cfg.Lock = noopRefreshLock{}
	}
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = DefaultRefreshBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	return &OAuthCoordinator{
		registry:       cfg.Registry,
		store:          cfg.Store,
		activity:       cfg.Activity,
		lock:           cfg.Lock,
		telemetry:      newTelemetry("connectors.oauth", cfg.Logger, cfg.Metrics),
		buffer:         cfg.RefreshBuffer,
		refreshTimeout: cfg.RefreshTimeout,
		now:            cfg.Clock,
		flight:         newKeyedFlight[TokenRecord](cfg.RefreshTimeout),
		writers:        newKeyedMutex(),
	}, nil
}

// BuildAuthorizeURL has no side effects; scopes fall back to the provider defaults.
func (c *OAuthCoordinator) BuildAuthorizeURL(provider string, state string, scopes []string) (string, error) {
	cfg, strategy, err := c.registry.Resolve(provider)
	if err != nil {
		return "", err
	}
	if !cfg.Configured() {
		return "", NewNotConfiguredError(cfg.Name)
	}
	if strings.TrimSpace(state) == "" {
		return "", NewBadInputError("oauth state is required")
	}
	return strategy.AuthorizeURL(cfg, strings.TrimSpace(state), cfg.ResolveScopes(scopes))
}

// ExchangeCode trades an authorization code for tokens and persists them.
// An empty userEmail is resolved from the provider userinfo email.
func (c *OAuthCoordinator) ExchangeCode(ctx context.Context, provider string, userEmail string, code string) (ExchangeResult, error) {
	return c.exchange(ctx, provider, userEmail, code, nil)
}

func (c *OAuthCoordinator) exchange(ctx context.Context, provider string, userEmail string, code string, requested []string) (result ExchangeResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{"provider": normalizeProvider(provider), "user_email": normalizeEmail(userEmail)}
	defer func() {
		c.telemetry.observe(ctx, startedAt, "exchange_code", err, fields)
	}()

	cfg, strategy, err := c.registry.Resolve(provider)
	if err != nil {
		return ExchangeResult{}, err
	}
	if !cfg.Configured() {
		return ExchangeResult{}, NewNotConfiguredError(cfg.Name)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ExchangeResult{}, NewBadInputError("authorization code is required")
	}

	grant, err := strategy.Exchange(ctx, cfg, code)
	if err != nil {
		return ExchangeResult{}, c.exchangeError(cfg.Name, err)
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return ExchangeResult{}, NewTokenExchangeFailedError(cfg.Name, 0, "token response missing access_token", nil)
	}

	userInfo, infoErr := strategy.UserInfo(ctx, cfg, grant.AccessToken)
	user := normalizeEmail(userEmail)
	if user == "" {
		if infoErr != nil {
			return ExchangeResult{}, c.exchangeError(cfg.Name, infoErr)
		}
		user = normalizeEmail(userInfoEmail(userInfo))
		if user == "" {
			return ExchangeResult{}, NewBadInputError("user email could not be resolved from provider userinfo")
		}
	} else if infoErr != nil {
		c.telemetry.logWarn(ctx, "userinfo lookup failed", map[string]any{
			"provider":   cfg.Name,
			"user_email": user,
			"error":      infoErr.Error(),
		})
	}
	fields["user_email"] = user

	now := c.now()
	record := applyGrant(now, cfg, TokenRecord{UserEmail: user, Provider: cfg.Name}, grant)
	if len(record.Scopes) == 0 {
		record.Scopes = cfg.ResolveScopes(requested)
	}
	if existing, ok, getErr := c.store.Get(ctx, user, cfg.Name); getErr == nil && ok && record.RefreshToken == "" && cfg.Quirks.IssuesRefreshToken {
		record.RefreshToken = existing.RefreshToken
	}
	stored, err := c.store.Put(ctx, record)
	if err != nil {
		return ExchangeResult{}, storageError("put", err)
	}

	c.logActivity(ctx, ActivityEntry{
		UserEmail: user,
		Provider:  cfg.Name,
		Action:    ActivityOAuthSuccess,
		Details: map[string]any{
			"scopes":            append([]string(nil), stored.Scopes...),
			"expires_at":        stored.ExpiresAt.Format(time.RFC3339),
			"has_refresh_token": stored.HasRefreshToken(),
		},
	})
	return ExchangeResult{Record: stored, UserInfo: userInfo}, nil
}

// Refresh exchanges the stored refresh token. Concurrent calls for the same
// credential share one remote call and one outcome.
func (c *OAuthCoordinator) Refresh(ctx context.Context, provider string, userEmail string) (record TokenRecord, err error) {
	startedAt := time.Now()
	key := NewCredentialKey(userEmail, provider)
	fields := map[string]any{"provider": key.Provider, "user_email": key.UserEmail}
	defer func() {
		c.telemetry.observe(ctx, startedAt, "refresh", err, fields)
	}()

	if err := key.Validate(); err != nil {
		return TokenRecord{}, NewBadInputError(err.Error())
	}
	cfg, strategy, err := c.registry.Resolve(key.Provider)
	if err != nil {
		return TokenRecord{}, err
	}

	requestedAt := c.now()
	record, shared, err := c.flight.Do(ctx, key.String(), func(runCtx context.Context) (TokenRecord, error) {
		return c.refreshOnce(runCtx, key, cfg, strategy, requestedAt)
	})
	fields["shared"] = shared
	if err != nil {
		return TokenRecord{}, err
	}
	return record.Clone(), nil
}

func (c *OAuthCoordinator) refreshOnce(
	ctx context.Context,
	key CredentialKey,
	cfg ProviderConfig,
	strategy OAuthStrategy,
	requestedAt time.Time,
) (TokenRecord, error) {
	unlock, err := c.lockCredential(ctx, key, cfg.Name)
	if err != nil {
		return TokenRecord{}, err
	}
	defer unlock()

	current, ok, err := c.store.Get(ctx, key.UserEmail, key.Provider)
	if err != nil {
		return TokenRecord{}, storageError("get", err)
	}
	if !ok {
		return TokenRecord{}, NewNoValidCredentialError(key.Provider, key.UserEmail)
	}

	// Written after this request began: another flight already refreshed it.
	now := c.now()
	if !current.UpdatedAt.Before(requestedAt) && current.ValidAt(now, c.buffer) {
		return current, nil
	}

	if !cfg.Quirks.IssuesRefreshToken || !current.HasRefreshToken() {
		return TokenRecord{}, NewRefreshUnsupportedError(key.Provider, key.UserEmail)
	}
	if !cfg.Configured() {
		return TokenRecord{}, NewNotConfiguredError(cfg.Name)
	}

	grant, err := strategy.Refresh(ctx, cfg, current.RefreshToken)
	if err == nil && strings.TrimSpace(grant.AccessToken) == "" {
		err = &RemoteStatusError{Body: "token response missing access_token"}
	}
	if err != nil {
		mapped := c.refreshError(key, err)
		c.logActivity(ctx, ActivityEntry{
			UserEmail: key.UserEmail,
			Provider:  key.Provider,
			Action:    ActivityTokenRefreshFailed,
			Details: map[string]any{
				"error":      mapped.Message,
				"error_code": mapped.TextCode,
			},
		})
		return TokenRecord{}, mapped
	}

	updated := applyGrant(c.now(), cfg, current, grant)
	stored, err := c.store.Put(ctx, updated)
	if err != nil {
		return TokenRecord{}, storageError("put", err)
	}
	c.logActivity(ctx, ActivityEntry{
		UserEmail: key.UserEmail,
		Provider:  key.Provider,
		Action:    ActivityTokenRefreshed,
		Details: map[string]any{
			"expires_at":    stored.ExpiresAt.Format(time.RFC3339),
			"refresh_token": stored.RefreshToken != current.RefreshToken,
		},
	})
	return stored, nil
}

// Validate reports whether the credential is usable, refreshing it first when
// it sits inside the refresh buffer. Refresh failures surface as Valid=false.
func (c *OAuthCoordinator) Validate(ctx context.Context, provider string, userEmail string) (ValidationResult, error) {
	key := NewCredentialKey(userEmail, provider)
	result := ValidationResult{Provider: key.Provider, UserEmail: key.UserEmail}
	if err := key.Validate(); err != nil {
		return result, NewBadInputError(err.Error())
	}
	if _, _, err := c.registry.Resolve(key.Provider); err != nil {
		return result, err
	}

	record, ok, err := c.store.Get(ctx, key.UserEmail, key.Provider)
	if err != nil {
		return result, storageError("get", err)
	}
	if !ok {
		result.Reason = StatusReasonNotConnected
		result.Error = NewNoValidCredentialError(key.Provider, key.UserEmail).Message
		return result, nil
	}
	result.Scopes = append([]string(nil), record.Scopes...)
	result.ExpiresAt = expiresAtPointer(record)
	if record.ValidAt(c.now(), c.buffer) {
		result.Valid = true
		return result, nil
	}

	result.NeedsRefresh = true
	refreshed, err := c.Refresh(ctx, key.Provider, key.UserEmail)
	if err != nil {
		switch ErrorCode(err) {
		case ErrorRefreshUnsupported:
			result.Reason = StatusReasonExpired
		case ErrorNoValidCredential:
			result.Reason = StatusReasonNotConnected
		default:
			result.Reason = StatusReasonRefreshFailed
		}
		result.Error = MapError(err).Message
		return result, nil
	}
	result.Valid = refreshed.ValidAt(c.now(), c.buffer)
	if !result.Valid {
		result.Reason = StatusReasonExpired
	}
	result.Refreshed = true
	result.Scopes = append([]string(nil), refreshed.Scopes...)
	result.ExpiresAt = expiresAtPointer(refreshed)
	return result, nil
}

// Revoke always deletes the local record; remote revocation is best effort.
func (c *OAuthCoordinator) Revoke(ctx context.Context, provider string, userEmail string) (err error) {
	startedAt := time.Now()
	key := NewCredentialKey(userEmail, provider)
	fields := map[string]any{"provider": key.Provider, "user_email": key.UserEmail}
	defer func() {
		c.telemetry.observe(ctx, startedAt, "revoke", err, fields)
	}()

	if err := key.Validate(); err != nil {
		return NewBadInputError(err.Error())
	}
	cfg, strategy, err := c.registry.Resolve(key.Provider)
	if err != nil {
		return err
	}

	// Held across the delete so an in-flight refresh cannot write the
	// credential back afterwards.
	unlock, err := c.lockCredential(ctx, key, cfg.Name)
	if err != nil {
		return err
	}
	defer unlock()

	details := map[string]any{"remote_revoked": false}
	record, ok, getErr := c.store.Get(ctx, key.UserEmail, key.Provider)
	switch {
	case getErr != nil:
		details["lookup_error"] = getErr.Error()
	case ok && strings.TrimSpace(cfg.RevokeURL) != "":
		if revokeErr := strategy.Revoke(ctx, cfg, record); revokeErr != nil {
			details["remote_error"] = revokeErr.Error()
		} else {
			details["remote_revoked"] = true
		}
	}
	details["had_credential"] = ok

	if err := c.store.Delete(ctx, key.UserEmail, key.Provider); err != nil {
		return storageError("delete", err)
	}
	c.flight.Forget(key.String())
	c.logActivity(ctx, ActivityEntry{
		UserEmail: key.UserEmail,
		Provider:  key.Provider,
		Action:    ActivityTokensRevoked,
		Details:   details,
	})
	return nil
}

// AccessToken returns a record usable right now, refreshing when needed.
func (c *OAuthCoordinator) AccessToken(ctx context.Context, provider string, userEmail string) (TokenRecord, error) {
	key := NewCredentialKey(userEmail, provider)
	if err := key.Validate(); err != nil {
		return TokenRecord{}, NewBadInputError(err.Error())
	}
	record, ok, err := c.store.GetValid(ctx, key.UserEmail, key.Provider)
	if err != nil {
		return TokenRecord{}, storageError("get_valid", err)
	}
	if ok {
		return record, nil
	}

	refreshed, err := c.Refresh(ctx, key.Provider, key.UserEmail)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return TokenRecord{}, err
		}
		switch ErrorCode(err) {
		case ErrorRemoteTimeout, ErrorStorageUnavailable, ErrorUnknownProvider, ErrorNoValidCredential:
			return TokenRecord{}, err
		}
		return TokenRecord{}, wrapNoValidCredentialError(key.Provider, key.UserEmail, err)
	}
	return refreshed, nil
}

// TokenSource binds AccessToken to one credential for connector use.
func (c *OAuthCoordinator) TokenSource(provider string, userEmail string) TokenSource {
	return TokenSourceFunc(func(ctx context.Context) (TokenRecord, error) {
		return c.AccessToken(ctx, provider, userEmail)
	})
}

func (c *OAuthCoordinator) RefreshBuffer() time.Duration {
	return c.buffer
}

// lockCredential takes the distributed lock and then the in-process writer
// lock for key. Refresh and revoke both go through it.
func (c *OAuthCoordinator) lockCredential(ctx context.Context, key CredentialKey, provider string) (func(), error) {
	release, err := c.lock.Acquire(ctx, key, c.lockTTL())
	if err != nil {
		if IsTimeout(err) {
			return nil, NewRemoteTimeoutError(provider, "refresh_lock", err)
		}
		return nil, storageError("refresh_lock", err)
	}
	unlockLocal, err := c.writers.Lock(ctx, key.String())
	if err != nil {
		_ = release(context.WithoutCancel(ctx))
		if IsTimeout(err) {
			return nil, NewRemoteTimeoutError(provider, "refresh_lock", err)
		}
		return nil, MapError(err)
	}
	return func() {
		unlockLocal()
		_ = release(context.WithoutCancel(ctx))
	}, nil
}

func (c *OAuthCoordinator) lockTTL() time.Duration {
	if c.refreshTimeout > 0 {
		return c.refreshTimeout + time.Second
	}
	return defaultRefreshLockTTL
}

func (c *OAuthCoordinator) exchangeError(provider string, err error) error {
	switch richTextCode(err) {
	case ErrorRemoteTimeout, ErrorTokenExchangeFailed:
		return err
	}
	if IsTimeout(err) {
		return NewRemoteTimeoutError(provider, "token_exchange", err)
	}
	status, body := remoteStatus(err)
	return NewTokenExchangeFailedError(provider, status, body, err)
}

func (c *OAuthCoordinator) refreshError(key CredentialKey, err error) *goerrors.Error {
	switch richTextCode(err) {
	case ErrorRemoteTimeout, ErrorRefreshFailed:
		return MapError(err)
	}
	if IsTimeout(err) {
		return NewRemoteTimeoutError(key.Provider, "token_refresh", err)
	}
	status, body := remoteStatus(err)
	return NewRefreshFailedError(key.Provider, key.UserEmail, status, body, err)
}

func (c *OAuthCoordinator) logActivity(ctx context.Context, entry ActivityEntry) {
	if c.activity == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	if err := c.activity.Log(ctx, entry); err != nil {
		c.telemetry.logWarn(ctx, "activity log failed", map[string]any{
			"provider":   entry.Provider,
			"user_email": entry.UserEmail,
			"action":     entry.Action,
			"error":      err.Error(),
		})
	}
}

func storageError(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch richTextCode(err) {
	case ErrorStorageUnavailable, ErrorBadInput:
		return err
	}
	return NewStorageUnavailableError(operation, err)
}

// userInfoEmail reads the email claim from provider userinfo payloads.
func userInfoEmail(info map[string]any) string {
	for _, key := range []string{"email", "mail", "userPrincipalName", "preferred_username"} {
		if value, ok := info[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	if person, ok := info["person"].(map[string]any); ok {
		if email, ok := person["email"].(string); ok {
			return email
		}
	}
	if user, ok := info["user"].(map[string]any); ok {
		if email, ok := user["email"].(string); ok {
			return email
		}
	}
	return ""
}
