// Package notion describes the Notion public integration provider and its
// page connector.
package notion

import (
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
)

const (
	ProviderName = "notion"
	APIBaseURL   = "https://api.notion.com/v1"
	AuthorizeURL = APIBaseURL + "/oauth/authorize"
	TokenURL     = APIBaseURL + "/oauth/token"
	UserInfoURL  = APIBaseURL + "/users/me"
	APIVersion   = "2022-06-28"
)

// ProviderConfig returns the Notion defaults. Notion grants capabilities per
// integration rather than per scope and its tokens do not expire.
func ProviderConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:         ProviderName,
		DisplayName:  "Notion",
		AuthorizeURL: AuthorizeURL,
		TokenURL:     TokenURL,
		UserInfoURL:  UserInfoURL,
		Quirks: core.ProviderQuirks{
			AuthorizeParams:    map[string]string{"owner": "user"},
			NoExpiry:           true,
			ClientAuthInHeader: true,
		},
	}
}

// NewStrategy keeps the workspace and bot ids from the token response.
// users/me answers with the bot user, so userinfo is narrowed to the person
// that installed it.
func NewStrategy(opts ...providers.StrategyOption) *providers.OAuth2Strategy {
	base := []providers.StrategyOption{
		providers.WithTokenMetadata(map[string]string{
			"workspace_id":   "workspace_id",
			"workspace_name": "workspace_name",
			"bot_id":         "bot_id",
			"owner_user_id":  "owner.user.id",
		}),
		providers.WithUserInfoHeaders(map[string]string{"Notion-Version": APIVersion}),
		providers.WithUserInfoTransform(ownerUser),
	}
	return providers.NewOAuth2Strategy(append(base, opts...)...)
}

func ownerUser(info map[string]any) map[string]any {
	owner := providers.ReadMap(providers.ReadMap(providers.ReadMap(info, "bot"), "owner"), "user")
	if len(owner) == 0 {
		return info
	}
	out := map[string]any{}
	for key, value := range owner {
		out[key] = value
	}
	if workspace := providers.ReadString(providers.ReadMap(info, "bot"), "workspace_name"); workspace != "" {
		out["workspace_name"] = workspace
	}
	return out
}
