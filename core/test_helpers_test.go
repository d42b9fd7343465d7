package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type fakeStrategy struct {
	mu            sync.Mutex
	exchangeGrant TokenGrant
	exchangeErr   error
	refreshGrant  TokenGrant
	refreshErr    error
	revokeErr     error
	userInfo      map[string]any
	userInfoErr   error
	refreshGate   chan struct{}

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	revokeCalls   atomic.Int32
}

func (s *fakeStrategy) AuthorizeURL(cfg ProviderConfig, state string, scopes []string) (string, error) {
	values := url.Values{}
	values.Set("client_id", cfg.ClientID)
	values.Set("redirect_uri", cfg.RedirectURI)
	values.Set("response_type", "code")
	values.Set("scope", strings.Join(scopes, cfg.Separator()))
	values.Set("state", state)
	for key, value := range cfg.Quirks.AuthorizeParams {
		values.Set(key, value)
	}
	return cfg.ResolvedAuthorizeURL() + "?" + values.Encode(), nil
}

func (s *fakeStrategy) Exchange(context.Context, ProviderConfig, string) (TokenGrant, error) {
	s.exchangeCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchangeGrant, s.exchangeErr
}

func (s *fakeStrategy) Refresh(ctx context.Context, _ ProviderConfig, _ string) (TokenGrant, error) {
	calls := s.refreshCalls.Add(1)
	if s.refreshGate != nil {
		select {
		case <-s.refreshGate:
		case <-ctx.Done():
			return TokenGrant{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshErr != nil {
		return TokenGrant{}, s.refreshErr
	}
	grant := s.refreshGrant
	if grant.AccessToken == "" {
		grant.AccessToken = fmt.Sprintf("refreshed-%d", calls)
		grant.Expiry = time.Now().UTC().Add(time.Hour)
	}
	return grant, nil
}

func (s *fakeStrategy) Revoke(context.Context, ProviderConfig, TokenRecord) error {
	s.revokeCalls.Add(1)
	return s.revokeErr
}

func (s *fakeStrategy) UserInfo(context.Context, ProviderConfig, string) (map[string]any, error) {
	if s.userInfoErr != nil {
		return nil, s.userInfoErr
	}
	return copyAnyMap(s.userInfo), nil
}

func testProviderConfig(name string, quirks ProviderQuirks) ProviderConfig {
	return ProviderConfig{
		Name:          name,
		ClientID:      name + "-client",
		ClientSecret:  name + "-secret",
		RedirectURI:   "https://app.example/oauth/" + name + "/callback",
		DefaultScopes: []string{"read", "write"},
		AuthorizeURL:  "https://auth.example/" + name + "/authorize",
		TokenURL:      "https://auth.example/" + name + "/token",
		RevokeURL:     "https://auth.example/" + name + "/revoke",
		Quirks:        quirks,
	}
}

func refreshingQuirks() ProviderQuirks {
	return ProviderQuirks{IssuesRefreshToken: true}
}

type coordinatorFixture struct {
	registry    *ProviderRegistry
	store       *MemoryCredentialStore
	activity    *MemoryActivityLog
	coordinator *OAuthCoordinator
}

func newCoordinatorFixture(providers map[string]*fakeStrategy, quirks map[string]ProviderQuirks) (*coordinatorFixture, error) {
	registry := NewProviderRegistry()
	for name, strategy := range providers {
		if err := registry.Register(testProviderConfig(name, quirks[name]), strategy); err != nil {
			return nil, err
		}
	}
	store := NewMemoryCredentialStore(DefaultRefreshBuffer)
	activity := NewMemoryActivityLog()
	coordinator, err := NewOAuthCoordinator(CoordinatorConfig{
		Registry:       registry,
		Store:          store,
		Activity:       activity,
		RefreshTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &coordinatorFixture{registry: registry, store: store, activity: activity, coordinator: coordinator}, nil
}

type fakeConnector struct {
	capability  Capability
	tokens      TokenSource
	connectErr  error
	connects    atomic.Int32
	disconnects atomic.Int32
}

func (c *fakeConnector) Connect(ctx context.Context) error {
	c.connects.Add(1)
	if c.connectErr != nil {
		return c.connectErr
	}
	if c.tokens == nil {
		return nil
	}
	_, err := c.tokens.Token(ctx)
	return err
}

func (c *fakeConnector) Disconnect(context.Context) error {
	c.disconnects.Add(1)
	return nil
}

func (c *fakeConnector) TestConnection(context.Context) (ConnectionTest, error) {
	return ConnectionTest{Connected: true, Detail: map[string]any{"fake": true}}, nil
}

func (c *fakeConnector) Capabilities(context.Context) CapabilityInfo {
	return CapabilityInfo{Capability: c.capability, Operations: OperationsFor(c.capability)}
}

type fakeProjectConnector struct {
	fakeConnector
}

func (c *fakeProjectConnector) ListProjects(ctx context.Context) ([]Payload, error) {
	if _, err := c.tokens.Token(ctx); err != nil {
		return nil, err
	}
	return []Payload{{"key": "OPS", "name": "Operations"}}, nil
}

func (c *fakeProjectConnector) GetProject(_ context.Context, id string) (Payload, error) {
	return Payload{"key": id}, nil
}

func (c *fakeProjectConnector) ListIssues(_ context.Context, projectID string, _ ListFilter) (Page, error) {
	return Page{Items: []Payload{{"key": projectID + "-1"}}, Total: 1}, nil
}

func (c *fakeProjectConnector) CreateIssue(_ context.Context, projectID string, payload Payload) (Payload, error) {
	out := copyAnyMap(payload)
	out["key"] = projectID + "-2"
	return out, nil
}

func (c *fakeProjectConnector) UpdateIssue(_ context.Context, id string, payload Payload) (Payload, error) {
	out := copyAnyMap(payload)
	out["key"] = id
	return out, nil
}

func (c *fakeProjectConnector) GetIssue(_ context.Context, id string) (Payload, error) {
	return Payload{"key": id}, nil
}

type fakeCommunicationConnector struct {
	fakeConnector
}

func (c *fakeCommunicationConnector) ListChannels(context.Context) ([]Payload, error) {
	return []Payload{{"id": "C1", "name": "general"}}, nil
}

func (c *fakeCommunicationConnector) GetChannel(_ context.Context, id string) (Payload, error) {
	return Payload{"id": id}, nil
}

func (c *fakeCommunicationConnector) ListMessages(context.Context, string, ListFilter) (Page, error) {
	return Page{}, nil
}

func (c *fakeCommunicationConnector) SendMessage(_ context.Context, channelID string, text string) (Payload, error) {
	return Payload{"channel": channelID, "text": text}, nil
}

func (c *fakeCommunicationConnector) SearchMessages(context.Context, string) (Page, error) {
	return Page{}, nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.values), nil
}

func seedRecord(store CredentialStore, user string, provider string, expiresAt time.Time, refreshToken string) (TokenRecord, error) {
	return store.Put(context.Background(), TokenRecord{
		UserEmail:    user,
		Provider:     provider,
		AccessToken:  "seed-access",
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		Scopes:       []string{"read"},
	})
}

func activityActions(log ActivityLog, filter ActivityFilter) []string {
	entries, err := log.List(context.Background(), filter)
	if err != nil {
		return nil
	}
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func containsString(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
