package core

import (
	"context"
	"net/url"
	"testing"
	"time"
)

type serviceFixture struct {
	svc        *Service
	strategies map[string]*fakeStrategy
	store      *MemoryCredentialStore
	activity   *MemoryActivityLog
}

func newServiceFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()
	strategies := map[string]*fakeStrategy{
		"google": {
			exchangeGrant: TokenGrant{AccessToken: "g-access", RefreshToken: "g-refresh", Expiry: time.Now().Add(time.Hour)},
			userInfo:      map[string]any{"email": "userinfo@example.com"},
		},
		"slack": {
			exchangeGrant: TokenGrant{AccessToken: "xoxp-1", Metadata: map[string]any{"team_id": "T1"}},
		},
		"atlassian": {
			exchangeGrant: TokenGrant{AccessToken: "a-access", RefreshToken: "a-refresh", Expiry: time.Now().Add(time.Hour)},
		},
	}
	quirks := map[string]ProviderQuirks{
		"google":    {IssuesRefreshToken: true, AuthorizeParams: map[string]string{"access_type": "offline"}},
		"slack":     {IssuesRefreshToken: false, DefaultExpiresIn: time.Hour},
		"atlassian": {IssuesRefreshToken: true},
	}
	store := NewMemoryCredentialStore(DefaultRefreshBuffer)
	activity := NewMemoryActivityLog()

	base := []Option{
		WithCredentialStore(store),
		WithActivityLog(activity),
		WithLogger(stubLogger{}),
		WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}}),
		WithConnector("jira", func(ctx context.Context, deps ConnectorDeps) (Connector, error) {
			return &fakeProjectConnector{fakeConnector: fakeConnector{capability: deps.Capability, tokens: deps.Tokens}}, nil
		}, CapabilityProject, WithCredentialProvider("atlassian")),
		WithConnector("slack", func(ctx context.Context, deps ConnectorDeps) (Connector, error) {
			return &fakeCommunicationConnector{fakeConnector: fakeConnector{capability: deps.Capability, tokens: deps.Tokens}}, nil
		}, CapabilityCommunication),
	}
	for name, strategy := range strategies {
		base = append(base, WithProvider(testProviderConfig(name, quirks[name]), strategy))
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return &serviceFixture{svc: svc, strategies: strategies, store: store, activity: activity}
}

func TestService_AuthorizeCallbackRoundTrip(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	resp, err := fixture.svc.AuthURL(ctx, AuthURLRequest{Provider: "google", UserEmail: "ada@example.com"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if resp.State == "" {
		t.Fatalf("expected generated state")
	}
	parsed, err := url.Parse(resp.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Query().Get("state") != resp.State || parsed.Query().Get("access_type") != "offline" {
		t.Fatalf("unexpected authorize query: %s", parsed.RawQuery)
	}

	result, err := fixture.svc.HandleCallback(ctx, CallbackRequest{Provider: "google", Code: "code-1", State: resp.State})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if result.UserEmail != "ada@example.com" {
		t.Fatalf("expected user from state, got %q", result.UserEmail)
	}
	if _, ok, _ := fixture.store.GetValid(ctx, "ada@example.com", "google"); !ok {
		t.Fatalf("expected stored credential after callback")
	}

	_, err = fixture.svc.HandleCallback(ctx, CallbackRequest{Provider: "google", Code: "code-2", State: resp.State})
	if !IsErrorCode(err, ErrorOAuthStateInvalid) {
		t.Fatalf("expected replayed state to be rejected, got %v", err)
	}
}

func TestService_CallbackRejectsMismatchedState(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	resp, err := fixture.svc.AuthURL(ctx, AuthURLRequest{Provider: "google", UserEmail: "ada@example.com", State: "fixed-state"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if resp.State != "fixed-state" {
		t.Fatalf("expected caller state to be kept, got %q", resp.State)
	}

	_, err = fixture.svc.HandleCallback(ctx, CallbackRequest{Provider: "atlassian", Code: "code", State: "fixed-state"})
	if !IsErrorCode(err, ErrorOAuthStateInvalid) {
		t.Fatalf("expected other-provider state to be rejected, got %v", err)
	}
	_, err = fixture.svc.HandleCallback(ctx, CallbackRequest{Provider: "google", Code: "code", State: "never-issued"})
	if !IsErrorCode(err, ErrorOAuthStateInvalid) {
		t.Fatalf("expected unknown state to be rejected, got %v", err)
	}
	if fixture.strategies["google"].exchangeCalls.Load() != 0 || fixture.strategies["atlassian"].exchangeCalls.Load() != 0 {
		t.Fatalf("expected no token exchange for rejected states")
	}
	if users, _ := fixture.store.ListUsers(ctx, ""); len(users) != 0 {
		t.Fatalf("expected no records for rejected callbacks, got %v", users)
	}
}

func TestService_CallbackResolvesUserFromUserInfo(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	resp, err := fixture.svc.AuthURL(ctx, AuthURLRequest{Provider: "google"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	result, err := fixture.svc.HandleCallback(ctx, CallbackRequest{Provider: "google", Code: "code", State: resp.State})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if result.UserEmail != "userinfo@example.com" {
		t.Fatalf("expected userinfo email, got %q", result.UserEmail)
	}
}

func TestService_SlackNoRefreshScenario(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()

	resp, err := fixture.svc.AuthURL(ctx, AuthURLRequest{Provider: "slack", UserEmail: "ada@example.com"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if _, err := fixture.svc.HandleCallback(ctx, CallbackRequest{Provider: "slack", Code: "code", State: resp.State}); err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	record, ok, _ := fixture.store.Get(ctx, "ada@example.com", "slack")
	if !ok || record.HasRefreshToken() {
		t.Fatalf("expected slack record without refresh token, got %+v", record)
	}
	if record.Metadata["team_id"] != "T1" {
		t.Fatalf("expected token metadata to be kept, got %+v", record.Metadata)
	}

	if _, err := fixture.svc.Refresh(ctx, "slack", "ada@example.com"); !IsErrorCode(err, ErrorRefreshUnsupported) {
		t.Fatalf("expected %s, got %v", ErrorRefreshUnsupported, err)
	}
	validation, err := fixture.svc.Validate(ctx, "slack", "ada@example.com")
	if err != nil || !validation.Valid {
		t.Fatalf("expected fresh slack token to validate, got %+v err=%v", validation, err)
	}
	if fixture.strategies["slack"].refreshCalls.Load() != 0 {
		t.Fatalf("expected no remote refresh for slack")
	}
}

func TestService_DispatchJiraVersusCommunicationOperation(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	if _, err := seedRecord(fixture.store, "ada@example.com", "atlassian", time.Now().Add(time.Hour), "refresh"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := fixture.svc.Dispatch(ctx, DispatchRequest{Provider: "jira", UserEmail: "ada@example.com", Operation: OpListProjects})
	if err != nil {
		t.Fatalf("dispatch list_projects: %v", err)
	}
	projects, ok := result.Data.([]Payload)
	if !ok || len(projects) != 1 || projects[0]["key"] != "OPS" {
		t.Fatalf("unexpected projects payload: %#v", result.Data)
	}
	if result.Capability != CapabilityProject {
		t.Fatalf("expected project capability, got %q", result.Capability)
	}

	_, err = fixture.svc.Dispatch(ctx, DispatchRequest{Provider: "jira", UserEmail: "ada@example.com", Operation: OpListChannels})
	if !IsErrorCode(err, ErrorUnsupportedOperation) {
		t.Fatalf("expected %s, got %v", ErrorUnsupportedOperation, err)
	}

	_, err = fixture.svc.Dispatch(ctx, DispatchRequest{Provider: "jira", UserEmail: "ada@example.com", Operation: OpGetIssue})
	if !IsErrorCode(err, ErrorBadInput) {
		t.Fatalf("expected missing issue_id to be bad input, got %v", err)
	}

	status, err := fixture.svc.ConnectorStatus(ctx, "jira", "ada@example.com")
	if err != nil {
		t.Fatalf("connector status: %v", err)
	}
	if !status.Connected || status.LastSync == nil {
		t.Fatalf("expected connected status with last sync, got %+v", status)
	}
}

func TestService_DispatchWithoutCredential(t *testing.T) {
	fixture := newServiceFixture(t)
	_, err := fixture.svc.Dispatch(context.Background(), DispatchRequest{Provider: "jira", UserEmail: "ada@example.com", Operation: OpListProjects})
	if !IsErrorCode(err, ErrorConnectorConstructionFailed) {
		t.Fatalf("expected construction failure without credential, got %v", err)
	}
}

func TestService_RevokeEvictsConnectors(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	if _, err := seedRecord(fixture.store, "ada@example.com", "atlassian", time.Now().Add(time.Hour), "refresh"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := fixture.svc.Dispatch(ctx, DispatchRequest{Provider: "jira", UserEmail: "ada@example.com", Operation: OpListProjects}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, ok := fixture.svc.Factory().Cached("jira", "ada@example.com"); !ok {
		t.Fatalf("expected cached jira connector")
	}

	if err := fixture.svc.Revoke(ctx, "atlassian", "ada@example.com"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, ok := fixture.svc.Factory().Cached("jira", "ada@example.com"); ok {
		t.Fatalf("expected revoke to evict the jira connector")
	}
	if _, ok, _ := fixture.store.GetValid(ctx, "ada@example.com", "atlassian"); ok {
		t.Fatalf("expected credential removed")
	}
}

func TestService_StatusFansOutPerProvider(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	if _, err := seedRecord(fixture.store, "ada@example.com", "google", time.Now().Add(time.Hour), "refresh"); err != nil {
		t.Fatalf("seed google: %v", err)
	}
	if _, err := seedRecord(fixture.store, "ada@example.com", "atlassian", time.Now().Add(-time.Hour), "refresh"); err != nil {
		t.Fatalf("seed atlassian: %v", err)
	}

	status, err := fixture.svc.Status(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Providers) != 3 {
		t.Fatalf("expected every provider in status, got %d", len(status.Providers))
	}
	if !status.Providers["google"].Connected {
		t.Fatalf("expected google connected")
	}
	atlassian := status.Providers["atlassian"]
	if !atlassian.Connected || atlassian.Reason != "" {
		t.Fatalf("expected expired atlassian credential refreshed by status, got %+v", atlassian)
	}
	if calls := fixture.strategies["atlassian"].refreshCalls.Load(); calls != 1 {
		t.Fatalf("expected one atlassian refresh, got %d", calls)
	}
	if atlassian.ExpiresAt == nil || !atlassian.ExpiresAt.After(time.Now()) {
		t.Fatalf("expected refreshed expiry, got %v", atlassian.ExpiresAt)
	}
	if status.Providers["slack"].Reason != StatusReasonNotConnected || status.Providers["slack"].Error != "" {
		t.Fatalf("expected slack not connected, got %+v", status.Providers["slack"])
	}
	if calls := fixture.strategies["google"].refreshCalls.Load(); calls != 0 {
		t.Fatalf("expected valid google credential left alone, got %d refreshes", calls)
	}
}

func TestService_StatusReportsRefreshOutcomes(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	fixture.strategies["atlassian"].refreshErr = &RemoteStatusError{StatusCode: 400, Body: "invalid_grant"}
	if _, err := seedRecord(fixture.store, "ada@example.com", "atlassian", time.Now().Add(-time.Minute), "refresh"); err != nil {
		t.Fatalf("seed atlassian: %v", err)
	}
	if _, err := seedRecord(fixture.store, "ada@example.com", "slack", time.Now().Add(-time.Minute), ""); err != nil {
		t.Fatalf("seed slack: %v", err)
	}

	status, err := fixture.svc.Status(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	atlassian := status.Providers["atlassian"]
	if atlassian.Connected || atlassian.Reason != StatusReasonRefreshFailed || atlassian.Error == "" {
		t.Fatalf("expected failed refresh entry, got %+v", atlassian)
	}
	slack := status.Providers["slack"]
	if slack.Connected || slack.Reason != StatusReasonExpired {
		t.Fatalf("expected slack expired without refresh, got %+v", slack)
	}
	if calls := fixture.strategies["slack"].refreshCalls.Load(); calls != 0 {
		t.Fatalf("expected no slack refresh call, got %d", calls)
	}
}

func TestService_AvailableProvidersAppliesConfiguredCredentials(t *testing.T) {
	runtime := DefaultConfig()
	runtime.Providers = map[string]ProviderCredentials{
		"google": {ClientID: "override-id", Scopes: []string{"email"}},
	}
	registry := NewProviderRegistry()
	svc, err := NewService(runtime,
		WithRegistry(registry),
		WithProvider(testProviderConfig("google", ProviderQuirks{}), &fakeStrategy{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close(context.Background())

	providers := svc.AvailableProviders(context.Background())
	if len(providers) != 1 {
		t.Fatalf("expected one provider, got %d", len(providers))
	}
	if !providers[0].Configured || len(providers[0].DefaultScopes) != 1 || providers[0].DefaultScopes[0] != "email" {
		t.Fatalf("expected configured scopes override, got %+v", providers[0])
	}
	cfg, _, err := registry.Resolve("google")
	if err != nil || cfg.ClientID != "override-id" {
		t.Fatalf("expected client id override, got %q err=%v", cfg.ClientID, err)
	}
}

func TestService_ActivityIsFlushedOnClose(t *testing.T) {
	fixture := newServiceFixture(t)
	ctx := context.Background()
	if _, err := seedRecord(fixture.store, "ada@example.com", "google", time.Now().Add(time.Hour), "refresh"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := fixture.svc.Revoke(ctx, "google", "ada@example.com"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	fixture.svc.Close(ctx)

	entries, err := fixture.svc.Activity(ctx, ActivityFilter{UserEmail: "ada@example.com", Action: ActivityTokensRevoked})
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected revoke activity after close, got %d", len(entries))
	}
}
