package connectors_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	connectors "github.com/goliatone/go-connectors"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers/atlassian"
	"github.com/goliatone/go-connectors/providers/atlassian/jira"
	"github.com/goliatone/go-connectors/providers/slack"
)

func TestDownstreamComposition_SlackCredentialHasNoRefresh(t *testing.T) {
	remote := newRemoteFixture(t)
	svc := remote.service(t)
	ctx := context.Background()

	auth, err := svc.AuthURL(ctx, core.AuthURLRequest{Provider: slack.ProviderName, UserEmail: "ada@example.com"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	result, err := svc.HandleCallback(ctx, core.CallbackRequest{Provider: slack.ProviderName, Code: "code-1", State: auth.State})
	if err != nil {
		t.Fatalf("handle callback: %v", err)
	}
	if result.UserEmail != "ada@example.com" {
		t.Fatalf("unexpected callback user %q", result.UserEmail)
	}

	stored, ok, err := svc.CredentialStore().Get(ctx, "ada@example.com", slack.ProviderName)
	if err != nil || !ok {
		t.Fatalf("expected stored slack credential, ok=%v err=%v", ok, err)
	}
	if stored.RefreshToken != "" || !stored.NeverExpires() {
		t.Fatalf("expected non-expiring slack credential without refresh token, got %#v", stored)
	}

	_, err = svc.Refresh(ctx, slack.ProviderName, "ada@example.com")
	if !core.IsErrorCode(err, core.ErrorRefreshUnsupported) {
		t.Fatalf("expected REFRESH_UNSUPPORTED, got %v", err)
	}
	after, _, _ := svc.CredentialStore().Get(ctx, "ada@example.com", slack.ProviderName)
	if after.AccessToken != stored.AccessToken || !after.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Fatalf("expected refresh attempt to leave the credential untouched")
	}
}

func TestDownstreamComposition_ExpiredAtlassianValidateRefreshesOnce(t *testing.T) {
	remote := newRemoteFixture(t)
	svc := remote.service(t)
	ctx := context.Background()
	remote.seedAtlassian(t, svc, time.Now().Add(-time.Second))

	validation, err := svc.Validate(ctx, atlassian.ProviderName, "ada@example.com")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !validation.Valid || !validation.Refreshed {
		t.Fatalf("expected validate to refresh the expired credential, got %#v", validation)
	}
	record, ok, err := svc.CredentialStore().GetValid(ctx, "ada@example.com", atlassian.ProviderName)
	if err != nil || !ok {
		t.Fatalf("expected valid credential after refresh, ok=%v err=%v", ok, err)
	}
	if record.AccessToken != "atl-fresh" {
		t.Fatalf("expected refreshed token, got %q", record.AccessToken)
	}
	if _, err := svc.Validate(ctx, atlassian.ProviderName, "ada@example.com"); err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if got := remote.count("refresh"); got != 1 {
		t.Fatalf("expected exactly one remote refresh, got %d", got)
	}
}

func TestDownstreamComposition_DispatchHonorsRegisteredCapability(t *testing.T) {
	remote := newRemoteFixture(t)
	svc := remote.service(t,
		core.WithConnector("jira_chat", jira.NewConstructor(), core.CapabilityCommunication,
			core.WithCredentialProvider(atlassian.ProviderName)),
	)
	ctx := context.Background()
	remote.seedAtlassian(t, svc, time.Now().Add(time.Hour))

	result, err := svc.Dispatch(ctx, core.DispatchRequest{
		Provider:  jira.ConnectorName,
		UserEmail: "ada@example.com",
		Operation: core.OpListIssues,
		Args:      map[string]any{"project_id": "DEMO"},
	})
	if err != nil {
		t.Fatalf("dispatch list_issues: %v", err)
	}
	page, ok := result.Data.(core.Page)
	if !ok || page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("unexpected list_issues result %#v", result.Data)
	}
	if result.Capability != core.CapabilityProject {
		t.Fatalf("expected project capability, got %q", result.Capability)
	}

	_, err = svc.Dispatch(ctx, core.DispatchRequest{
		Provider:  "jira_chat",
		UserEmail: "ada@example.com",
		Operation: core.OpListIssues,
		Args:      map[string]any{"project_id": "DEMO"},
	})
	if !core.IsErrorCode(err, core.ErrorUnsupportedOperation) {
		t.Fatalf("expected UNSUPPORTED_OPERATION, got %v", err)
	}
	if got := remote.count("search"); got != 1 {
		t.Fatalf("expected the rejected dispatch to skip the remote call, got %d searches", got)
	}
}

// remoteFixture stands in for slack.com and the Atlassian endpoints. Every
// outbound request is rewritten onto one httptest server.
type remoteFixture struct {
	server *httptest.Server
	mu     sync.Mutex
	calls  map[string]int
}

func newRemoteFixture(t *testing.T) *remoteFixture {
	t.Helper()
	f := &remoteFixture{calls: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth.v2.access", func(w http.ResponseWriter, _ *http.Request) {
		f.hit("slack_exchange")
		writeJSON(w, map[string]any{
			"ok":           true,
			"access_token": "xoxp-1",
			"token_type":   "bearer",
			"scope":        "chat:write,channels:read",
			"authed_user":  map[string]any{"id": "U1"},
			"team":         map[string]any{"id": "T1", "name": "demo"},
		})
	})
	mux.HandleFunc("/api/auth.test", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "user_id": "U1", "team_id": "T1", "team": "demo"})
	})
	mux.HandleFunc("/api/users.info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "user": map[string]any{"profile": map[string]any{"email": "ada@example.com"}}})
	})
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, _ *http.Request) {
		f.hit("refresh")
		writeJSON(w, map[string]any{
			"access_token":  "atl-fresh",
			"refresh_token": "atl-refresh-2",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/oauth/token/accessible-resources", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{{"id": "cloud-1", "name": "demo"}})
	})
	mux.HandleFunc("/ex/jira/cloud-1/rest/api/3/search", func(w http.ResponseWriter, _ *http.Request) {
		f.hit("search")
		writeJSON(w, map[string]any{"issues": []map[string]any{{"key": "DEMO-1"}}, "total": 1})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *remoteFixture) service(t *testing.T, extra ...core.Option) *core.Service {
	t.Helper()
	target, err := url.Parse(f.server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	client := &http.Client{Transport: rewriteTransport{target: target}, Timeout: 5 * time.Second}

	cfg := connectors.DefaultConfig()
	cfg.Providers = map[string]core.ProviderCredentials{
		slack.ProviderName:     {ClientID: "slack-client", ClientSecret: "slack-secret", RedirectURI: "https://app.test/callback"},
		atlassian.ProviderName: {ClientID: "atl-client", ClientSecret: "atl-secret", RedirectURI: "https://app.test/callback"},
	}
	svc, err := connectors.Setup(cfg, []connectors.BuiltinOption{connectors.WithBuiltinHTTPClient(client)}, extra...)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

func (f *remoteFixture) seedAtlassian(t *testing.T, svc *core.Service, expiresAt time.Time) {
	t.Helper()
	if _, err := svc.CredentialStore().Put(context.Background(), core.TokenRecord{
		UserEmail:    "ada@example.com",
		Provider:     atlassian.ProviderName,
		AccessToken:  "atl-stale",
		RefreshToken: "atl-refresh-1",
		ExpiresAt:    expiresAt,
		Scopes:       []string{"read:jira-work"},
	}); err != nil {
		t.Fatalf("seed atlassian credential: %v", err)
	}
}

func (f *remoteFixture) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *remoteFixture) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
