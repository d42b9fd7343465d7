package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NoExpirySentinel is stored as expires_at for providers whose tokens never expire.
var NoExpirySentinel = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

const (
	DefaultRefreshBuffer    = 5 * time.Minute
	DefaultTokenExpiresIn   = time.Hour
	defaultScopeSeparator   = " "
	tenantPlaceholder       = "{tenant}"
	defaultCommonTenantName = "common"
)

const (
	ActivityOAuthSuccess        = "oauth_success"
	ActivityTokenRefreshed      = "token_refreshed"
	ActivityTokenRefreshFailed  = "token_refresh_failed"
	ActivityTokensRevoked       = "tokens_revoked"
	ActivityConnectionTest      = "connection_test"
	ActivityConnectionTestFail  = "connection_test_failed"
	ActivityConnectorFailed     = "connector_failed"
	ActivityConnectorDisconnect = "connector_disconnected"
)

type CredentialKey struct {
	UserEmail string
	Provider  string
}

func NewCredentialKey(userEmail string, provider string) CredentialKey {
	return CredentialKey{
		UserEmail: normalizeEmail(userEmail),
		Provider:  normalizeProvider(provider),
	}
}

func (k CredentialKey) String() string {
	return k.Provider + "::" + k.UserEmail
}

func (k CredentialKey) Validate() error {
	if k.UserEmail == "" {
		return fmt.Errorf("core: user email is required")
	}
	if k.Provider == "" {
		return fmt.Errorf("core: provider is required")
	}
	return nil
}

// TokenRecord is the persisted OAuth credential for one (user, provider) pair.
type TokenRecord struct {
	UserEmail    string
	Provider     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (r TokenRecord) Key() CredentialKey {
	return NewCredentialKey(r.UserEmail, r.Provider)
}

func (r TokenRecord) HasRefreshToken() bool {
	return strings.TrimSpace(r.RefreshToken) != ""
}

// ValidAt reports whether the record stays usable past now plus buffer.
func (r TokenRecord) ValidAt(now time.Time, buffer time.Duration) bool {
	if strings.TrimSpace(r.AccessToken) == "" || r.ExpiresAt.IsZero() {
		return false
	}
	if buffer < 0 {
		buffer = 0
	}
	return r.ExpiresAt.After(now.Add(buffer))
}

func (r TokenRecord) NeverExpires() bool {
	return !r.ExpiresAt.Before(NoExpirySentinel)
}

func (r TokenRecord) Clone() TokenRecord {
	cloned := r
	cloned.Scopes = append([]string(nil), r.Scopes...)
	cloned.Metadata = copyAnyMap(r.Metadata)
	return cloned
}

type ActivityEntry struct {
	ID        int64
	UserEmail string
	Provider  string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}

type ActivityFilter struct {
	UserEmail string
	Provider  string
	Action    string
	Limit     int
	Offset    int
}

type ProviderQuirks struct {
	// IssuesRefreshToken is false for providers that only hand out long lived access tokens.
	IssuesRefreshToken bool
	// AuthorizeParams are fixed parameters appended to every authorize request.
	AuthorizeParams map[string]string
	// TenantID replaces {tenant} in the authorize and token URLs.
	TenantID string
	// NoExpiry stores NoExpirySentinel instead of a computed expiry.
	NoExpiry bool
	// DefaultExpiresIn applies when the token response omits expires_in.
	DefaultExpiresIn time.Duration
	// ClientAuthInHeader sends client credentials as HTTP basic auth.
	ClientAuthInHeader bool
	// RevokeWithBearer calls the revoke endpoint with the token as bearer credential.
	RevokeWithBearer bool
}

// ProviderConfig is the static OAuth description of a provider.
type ProviderConfig struct {
	Name           string
	DisplayName    string
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	DefaultScopes  []string
	AuthorizeURL   string
	TokenURL       string
	UserInfoURL    string
	RevokeURL      string
	ScopeSeparator string
	Quirks         ProviderQuirks
}

func (c ProviderConfig) Configured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

func (c ProviderConfig) Validate() error {
	if normalizeProvider(c.Name) == "" {
		return fmt.Errorf("core: provider name is required")
	}
	if strings.TrimSpace(c.AuthorizeURL) == "" {
		return fmt.Errorf("core: provider %s authorize url is required", c.Name)
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		return fmt.Errorf("core: provider %s token url is required", c.Name)
	}
	return nil
}

func (c ProviderConfig) ResolvedAuthorizeURL() string {
	return c.applyTenant(c.AuthorizeURL)
}

func (c ProviderConfig) ResolvedTokenURL() string {
	return c.applyTenant(c.TokenURL)
}

func (c ProviderConfig) applyTenant(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, tenantPlaceholder) {
		return raw
	}
	tenant := strings.TrimSpace(c.Quirks.TenantID)
	if tenant == "" {
		tenant = defaultCommonTenantName
	}
	return strings.ReplaceAll(raw, tenantPlaceholder, tenant)
}

func (c ProviderConfig) Separator() string {
	if c.ScopeSeparator == "" {
		return defaultScopeSeparator
	}
	return c.ScopeSeparator
}

// ResolveScopes returns requested scopes or the provider defaults.
func (c ProviderConfig) ResolveScopes(requested []string) []string {
	scopes := normalizeScopes(requested)
	if len(scopes) == 0 {
		scopes = normalizeScopes(c.DefaultScopes)
	}
	return scopes
}

func (c ProviderConfig) ExpiresIn() time.Duration {
	if c.Quirks.DefaultExpiresIn > 0 {
		return c.Quirks.DefaultExpiresIn
	}
	return DefaultTokenExpiresIn
}

func (c ProviderConfig) Clone() ProviderConfig {
	cloned := c
	cloned.DefaultScopes = append([]string(nil), c.DefaultScopes...)
	if len(c.Quirks.AuthorizeParams) > 0 {
		cloned.Quirks.AuthorizeParams = make(map[string]string, len(c.Quirks.AuthorizeParams))
		for key, value := range c.Quirks.AuthorizeParams {
			cloned.Quirks.AuthorizeParams[key] = value
		}
	}
	return cloned
}

// TokenGrant is the normalized token endpoint response.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
	Scopes       []string
	Metadata     map[string]any
}

type ValidationResult struct {
	Provider     string
	UserEmail    string
	Valid        bool
	NeedsRefresh bool
	Refreshed    bool
	Scopes       []string
	ExpiresAt    *time.Time
	// Reason is set when Valid is false: not_connected, expired or
	// refresh_failed.
	Reason string
	Error  string
}

const (
	StatusReasonNotConnected  = "not_connected"
	StatusReasonExpired       = "expired"
	StatusReasonRefreshFailed = "refresh_failed"
)

type AuthURLRequest struct {
	Provider  string
	UserEmail string
	State     string
	Scopes    []string
}

type AuthURLResponse struct {
	Provider string
	URL      string
	State    string
}

type CallbackRequest struct {
	Provider string
	Code     string
	State    string
}

type CallbackResult struct {
	Provider  string
	UserEmail string
	Scopes    []string
	ExpiresAt time.Time
	UserInfo  map[string]any
}

type ProviderStatus struct {
	Provider  string
	Connected bool
	ExpiresAt *time.Time
	Scopes    []string
	Reason    string
	Error     string
}

type UserStatus struct {
	UserEmail string
	Providers map[string]ProviderStatus
}

type ProviderInfo struct {
	Name          string
	DisplayName   string
	Configured    bool
	DefaultScopes []string
	RedirectURI   string
	Connectors    []string
}

func normalizeProvider(provider string) string {
	return strings.TrimSpace(strings.ToLower(provider))
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		trimmed := strings.TrimSpace(scope)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// SplitScopes parses a provider scope string using any of the common separators.
func SplitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
	return normalizeScopes(fields)
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

func sortedKeys[V any](in map[string]V) []string {
	keys := make([]string, 0, len(in))
	for key := range in {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
