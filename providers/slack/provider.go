// Package slack describes the Slack OAuth v2 provider and its communication
// connector. Slack tokens carry no refresh token and do not expire.
package slack

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ProviderName = "slack"
	AuthorizeURL = "https://slack.com/oauth/v2/authorize"
	TokenURL     = "https://slack.com/api/oauth.v2.access"
	RevokeURL    = "https://slack.com/api/auth.revoke"
	APIBaseURL   = "https://slack.com/api"
)

func ProviderConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:        ProviderName,
		DisplayName: "Slack",
		DefaultScopes: []string{
			"channels:read",
			"channels:history",
			"chat:write",
			"users:read",
			"users:read.email",
		},
		AuthorizeURL:   AuthorizeURL,
		TokenURL:       TokenURL,
		RevokeURL:      RevokeURL,
		ScopeSeparator: ",",
		Quirks: core.ProviderQuirks{
			IssuesRefreshToken: false,
			NoExpiry:           true,
			RevokeWithBearer:   true,
		},
	}
}

// Strategy resolves the Slack user through auth.test and users.info since
// Slack has no userinfo endpoint for bot scoped tokens.
type Strategy struct {
	*providers.OAuth2Strategy
	APIBaseURL string
}

func NewStrategy(opts ...providers.StrategyOption) *Strategy {
	base := []providers.StrategyOption{
		providers.WithTokenMetadata(map[string]string{
			"team_id":        "team.id",
			"team_name":      "team.name",
			"authed_user_id": "authed_user.id",
			"bot_user_id":    "bot_user_id",
			"app_id":         "app_id",
		}),
	}
	return &Strategy{
		OAuth2Strategy: providers.NewOAuth2Strategy(append(base, opts...)...),
		APIBaseURL:     APIBaseURL,
	}
}

func (s *Strategy) UserInfo(ctx context.Context, cfg core.ProviderConfig, accessToken string) (map[string]any, error) {
	tokens := core.TokenSourceFunc(func(context.Context) (core.TokenRecord, error) {
		return core.TokenRecord{AccessToken: accessToken}, nil
	})
	api := transport.NewAPIClient(cfg.Name, s.APIBaseURL, tokens, s.HTTPClient())

	identity, err := callAPI(ctx, api, "auth.test", nil, nil)
	if err != nil {
		return nil, err
	}
	info := map[string]any{
		"user_id": providers.ReadString(identity, "user_id"),
		"team_id": providers.ReadString(identity, "team_id"),
		"team":    providers.ReadString(identity, "team"),
	}
	userID := providers.ReadString(identity, "user_id")
	if userID == "" {
		return info, nil
	}
	user, err := callAPI(ctx, api, "users.info", map[string]string{"user": userID}, nil)
	if err != nil {
		return nil, err
	}
	profile := providers.ReadMap(providers.ReadMap(user, "user"), "profile")
	if email := providers.ReadString(profile, "email"); email != "" {
		info["email"] = email
	}
	if name := providers.ReadString(profile, "real_name"); name != "" {
		info["name"] = name
	}
	return info, nil
}

// callAPI runs one Web API method. Slack reports failures as HTTP 200 with
// ok=false, which is turned into a REMOTE_REJECTED error here.
func callAPI(ctx context.Context, api *transport.APIClient, method string, params map[string]string, body any) (map[string]any, error) {
	out := map[string]any{}
	var err error
	if body != nil {
		err = api.Post(ctx, method, body, &out)
	} else {
		err = api.Get(ctx, method, params, &out)
	}
	if err != nil {
		return nil, err
	}
	if ok, _ := out["ok"].(bool); !ok {
		code := providers.ReadString(out, "error")
		if code == "" {
			code = "unknown_error"
		}
		return nil, core.NewRemoteRejectedError(ProviderName, method, http.StatusOK, code)
	}
	return out, nil
}

func apiErrorCode(err error) string {
	mapped := core.MapError(err)
	if mapped == nil {
		return ""
	}
	return fmt.Sprint(mapped.Metadata["remote_body"])
}

var _ core.OAuthStrategy = (*Strategy)(nil)
