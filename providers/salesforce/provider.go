// Package salesforce describes the Salesforce web server OAuth flow and a
// data connector over the REST API of the org's instance.
package salesforce

import (
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
)

const (
	ProviderName = "salesforce"
	LoginURL     = "https://login.salesforce.com"
	SandboxURL   = "https://test.salesforce.com"
	APIVersion   = "v60.0"

	// Salesforce omits expires_in; sessions default to two hours.
	defaultSessionTTL = 2 * time.Hour
)

func ProviderConfig() core.ProviderConfig {
	return ProviderConfigForHost(LoginURL)
}

// ProviderConfigForHost points the OAuth endpoints at another login host,
// such as SandboxURL or a My Domain URL.
func ProviderConfigForHost(loginHost string) core.ProviderConfig {
	host := strings.TrimRight(strings.TrimSpace(loginHost), "/")
	if host == "" {
		host = LoginURL
	}
	return core.ProviderConfig{
		Name:          ProviderName,
		DisplayName:   "Salesforce",
		DefaultScopes: []string{"api", "refresh_token", "openid", "email"},
		AuthorizeURL:  host + "/services/oauth2/authorize",
		TokenURL:      host + "/services/oauth2/token",
		RevokeURL:     host + "/services/oauth2/revoke",
		UserInfoURL:   host + "/services/oauth2/userinfo",
		Quirks: core.ProviderQuirks{
			IssuesRefreshToken: true,
			DefaultExpiresIn:   defaultSessionTTL,
			AuthorizeParams:    map[string]string{"prompt": "consent"},
		},
	}
}

// NewStrategy keeps instance_url, which roots every REST call for the org.
func NewStrategy(opts ...providers.StrategyOption) *providers.OAuth2Strategy {
	base := []providers.StrategyOption{
		providers.WithTokenMetadata(map[string]string{
			"instance_url": "instance_url",
			"identity_url": "id",
			"issued_at":    "issued_at",
		}),
	}
	return providers.NewOAuth2Strategy(append(base, opts...)...)
}
