// Package microsoft describes the Microsoft identity platform provider.
package microsoft

import (
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
)

const (
	ProviderName = "microsoft"
	AuthorizeURL = "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/authorize"
	TokenURL     = "https://login.microsoftonline.com/{tenant}/oauth2/v2.0/token"
	GraphBaseURL = "https://graph.microsoft.com/v1.0"
	UserInfoURL  = GraphBaseURL + "/me"
)

// Teams scopes are not requested by default; ChannelMessage.Read.All needs
// admin consent in most tenants.
const (
	ScopeFilesReadWrite     = "Files.ReadWrite"
	ScopeTeamReadBasic      = "Team.ReadBasic.All"
	ScopeChannelReadBasic   = "Channel.ReadBasic.All"
	ScopeChannelMessageRead = "ChannelMessage.Read.All"
	ScopeChannelMessageSend = "ChannelMessage.Send"
)

// ProviderConfig returns the Microsoft defaults. The {tenant} placeholder is
// filled from Quirks.TenantID and falls back to "common".
func ProviderConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:        ProviderName,
		DisplayName: "Microsoft",
		DefaultScopes: []string{
			"offline_access",
			"User.Read",
			"Mail.Read",
			"Mail.Send",
			"Files.Read",
			"Files.ReadWrite",
			"Calendars.Read",
			"Calendars.ReadWrite",
		},
		AuthorizeURL: AuthorizeURL,
		TokenURL:     TokenURL,
		UserInfoURL:  UserInfoURL,
		Quirks: core.ProviderQuirks{
			IssuesRefreshToken: true,
			AuthorizeParams:    map[string]string{"response_mode": "query"},
		},
	}
}

func NewStrategy(opts ...providers.StrategyOption) *providers.OAuth2Strategy {
	return providers.NewOAuth2Strategy(opts...)
}
