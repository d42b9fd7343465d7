// Package atlassian describes the Atlassian (3LO) provider. Jira and
// Confluence connectors borrow its credential and reach their product APIs
// through the cloud id of the first accessible site.
package atlassian

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ProviderName       = "atlassian"
	AuthorizeURL       = "https://auth.atlassian.com/authorize"
	TokenURL           = "https://auth.atlassian.com/oauth/token"
	GatewayURL         = "https://api.atlassian.com"
	UserInfoURL        = GatewayURL + "/me"
	accessibleResource = "oauth/token/accessible-resources"
)

const (
	ProductJira       = "jira"
	ProductConfluence = "confluence"
)

func ProviderConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Name:        ProviderName,
		DisplayName: "Atlassian",
		DefaultScopes: []string{
			"read:jira-work",
			"write:jira-work",
			"read:jira-user",
			"read:confluence-content.all",
			"write:confluence-content",
			"search:confluence",
			"read:me",
			"offline_access",
		},
		AuthorizeURL: AuthorizeURL,
		TokenURL:     TokenURL,
		UserInfoURL:  UserInfoURL,
		Quirks: core.ProviderQuirks{
			IssuesRefreshToken: true,
			AuthorizeParams: map[string]string{
				"audience": "api.atlassian.com",
				"prompt":   "consent",
			},
		},
	}
}

func NewStrategy(opts ...providers.StrategyOption) *providers.OAuth2Strategy {
	return providers.NewOAuth2Strategy(opts...)
}

// Site scopes a gateway client to one product of the user's Atlassian site.
// The cloud id is looked up once and reused.
type Site struct {
	gateway *transport.APIClient
	product string

	mu      sync.RWMutex
	cloudID string
	name    string
	api     *transport.APIClient
}

func NewSite(gateway *transport.APIClient, product string) *Site {
	return &Site{gateway: gateway, product: product}
}

func (s *Site) Resolve(ctx context.Context) error {
	_, err := s.API(ctx)
	return err
}

// API returns the product client, resolving the cloud id on first use.
func (s *Site) API(ctx context.Context) (*transport.APIClient, error) {
	s.mu.RLock()
	api := s.api
	s.mu.RUnlock()
	if api != nil {
		return api, nil
	}

	var resources []map[string]any
	if err := s.gateway.Get(ctx, accessibleResource, nil, &resources); err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("atlassian: credential has no accessible sites")
	}
	cloudID := providers.ReadString(resources[0], "id")
	if cloudID == "" {
		return nil, fmt.Errorf("atlassian: accessible site is missing its cloud id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.api == nil {
		s.cloudID = cloudID
		s.name = providers.ReadString(resources[0], "name")
		s.api = s.gateway.WithBaseURL(strings.TrimRight(s.gateway.BaseURL, "/") + "/ex/" + s.product + "/" + cloudID)
	}
	return s.api, nil
}

func (s *Site) CloudID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloudID
}

func (s *Site) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Forget drops the resolved site so the next call looks it up again.
func (s *Site) Forget() {
	s.mu.Lock()
	s.api = nil
	s.cloudID = ""
	s.name = ""
	s.mu.Unlock()
}
