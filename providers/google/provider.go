// Package google describes the Google OAuth provider.
package google

import (
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
)

const (
	ProviderName = "google"
	AuthorizeURL = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL     = "https://oauth2.googleapis.com/token"
	RevokeURL    = "https://oauth2.googleapis.com/revoke"
	UserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
)

const (
	ScopeUserInfoEmail   = "https://www.googleapis.com/auth/userinfo.email"
	ScopeUserInfoProfile = "https://www.googleapis.com/auth/userinfo.profile"
	ScopeGmailReadOnly   = "https://www.googleapis.com/auth/gmail.readonly"
	ScopeGmailModify     = "https://www.googleapis.com/auth/gmail.modify"
	ScopeGmailSend       = "https://www.googleapis.com/auth/gmail.send"
	ScopeDrive           = "https://www.googleapis.com/auth/drive"
	ScopeCalendar        = "https://www.googleapis.com/auth/calendar"
)

// ProviderConfig returns the Google defaults. access_type=offline with
// prompt=consent makes Google issue a refresh token on every consent.
func ProviderConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:          ProviderName,
		DisplayName:   "Google",
		DefaultScopes: []string{ScopeGmailReadOnly, ScopeUserInfoEmail},
		AuthorizeURL:  AuthorizeURL,
		TokenURL:      TokenURL,
		UserInfoURL:   UserInfoURL,
		RevokeURL:     RevokeURL,
		Quirks: core.ProviderQuirks{
			IssuesRefreshToken: true,
			AuthorizeParams: map[string]string{
				"access_type":            "offline",
				"prompt":                 "consent",
				"include_granted_scopes": "true",
			},
		},
	}
}

func NewStrategy(opts ...providers.StrategyOption) *providers.OAuth2Strategy {
	base := []providers.StrategyOption{
		providers.WithTokenMetadata(map[string]string{"id_token": "id_token"}),
	}
	return providers.NewOAuth2Strategy(append(base, opts...)...)
}
