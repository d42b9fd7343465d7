package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
)

type slackAPI struct {
	t        *testing.T
	handlers map[string]func(r *http.Request) map[string]any
	calls    []string
}

func (a *slackAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[1:]
	a.calls = append(a.calls, method)
	if r.Header.Get("Authorization") != "Bearer xoxb-token" {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "invalid_auth"})
		return
	}
	handler, ok := a.handlers[method]
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "unknown_method"})
		return
	}
	_ = json.NewEncoder(w).Encode(handler(r))
}

func newSlackConnector(t *testing.T, handlers map[string]func(r *http.Request) map[string]any) (*Connector, *slackAPI) {
	t.Helper()
	api := &slackAPI{t: t, handlers: handlers}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	deps := core.ConnectorDeps{
		Name:       ConnectorName,
		Provider:   ProviderConfig(),
		UserEmail:  "ana@example.com",
		Capability: core.CapabilityCommunication,
		Tokens: core.TokenSourceFunc(func(context.Context) (core.TokenRecord, error) {
			return core.TokenRecord{AccessToken: "xoxb-token"}, nil
		}),
	}
	connector, err := NewConstructor(providers.WithConnectorHTTPClient(server.Client()), providers.WithAPIBaseURL(server.URL))(context.Background(), deps)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	return connector.(*Connector), api
}

func TestProviderConfig_SlackQuirks(t *testing.T) {
	cfg := ProviderConfig()
	cfg.ClientID = "client"
	cfg.ClientSecret = "secret"
	if cfg.Quirks.IssuesRefreshToken || !cfg.Quirks.NoExpiry {
		t.Fatalf("expected non-refreshing, non-expiring slack tokens")
	}
	raw, err := NewStrategy().AuthorizeURL(cfg, "state-1", []string{"channels:read", "chat:write"})
	if err != nil {
		t.Fatalf("authorize url: %v", err)
	}
	parsed, _ := url.Parse(raw)
	if parsed.Query().Get("scope") != "channels:read,chat:write" {
		t.Fatalf("expected comma joined scopes, got %q", parsed.Query().Get("scope"))
	}
}

func TestStrategy_ExchangeKeepsTeamMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"access_token":"xoxb-token","token_type":"bot","scope":"channels:read,chat:write","bot_user_id":"B1","team":{"id":"T1","name":"Acme"},"authed_user":{"id":"U1"}}`))
	}))
	defer server.Close()

	cfg := ProviderConfig()
	cfg.ClientID = "client"
	cfg.ClientSecret = "secret"
	cfg.TokenURL = server.URL

	grant, err := NewStrategy(providers.WithHTTPClient(server.Client())).Exchange(context.Background(), cfg, "code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if grant.RefreshToken != "" || !grant.Expiry.IsZero() {
		t.Fatalf("expected no refresh token or expiry, got %#v", grant)
	}
	if grant.Metadata["team_id"] != "T1" || grant.Metadata["authed_user_id"] != "U1" || grant.Metadata["bot_user_id"] != "B1" {
		t.Fatalf("unexpected metadata %#v", grant.Metadata)
	}
	if len(grant.Scopes) != 2 || grant.Scopes[1] != "chat:write" {
		t.Fatalf("unexpected scopes %#v", grant.Scopes)
	}
}

func TestStrategy_UserInfoResolvesEmail(t *testing.T) {
	api := &slackAPI{t: t, handlers: map[string]func(r *http.Request) map[string]any{
		"auth.test": func(*http.Request) map[string]any {
			return map[string]any{"ok": true, "user_id": "U1", "team_id": "T1", "team": "Acme"}
		},
		"users.info": func(r *http.Request) map[string]any {
			if r.URL.Query().Get("user") != "U1" {
				return map[string]any{"ok": false, "error": "user_not_found"}
			}
			return map[string]any{"ok": true, "user": map[string]any{"profile": map[string]any{"email": "ana@example.com", "real_name": "Ana"}}}
		},
	}}
	server := httptest.NewServer(api)
	defer server.Close()

	strategy := NewStrategy(providers.WithHTTPClient(server.Client()))
	strategy.APIBaseURL = server.URL

	info, err := strategy.UserInfo(context.Background(), ProviderConfig(), "xoxb-token")
	if err != nil {
		t.Fatalf("userinfo: %v", err)
	}
	if info["email"] != "ana@example.com" || info["team_id"] != "T1" {
		t.Fatalf("unexpected userinfo %#v", info)
	}

	if _, err := strategy.UserInfo(context.Background(), ProviderConfig(), "revoked"); !core.IsErrorCode(err, core.ErrorRemoteRejected) {
		t.Fatalf("expected rejected userinfo for bad token, got %v", err)
	}
}

func TestConnector_ChannelsAndHistory(t *testing.T) {
	connector, _ := newSlackConnector(t, map[string]func(r *http.Request) map[string]any{
		"conversations.list": func(r *http.Request) map[string]any {
			if r.URL.Query().Get("exclude_archived") != "true" {
				return map[string]any{"ok": false, "error": "bad_query"}
			}
			return map[string]any{"ok": true, "channels": []any{
				map[string]any{"id": "C1", "name": "general"},
				map[string]any{"id": "C2", "name": "random"},
			}}
		},
		"conversations.info": func(r *http.Request) map[string]any {
			return map[string]any{"ok": true, "channel": map[string]any{"id": r.URL.Query().Get("channel"), "name": "general"}}
		},
		"conversations.history": func(r *http.Request) map[string]any {
			if r.URL.Query().Get("oldest") != "100.0" || r.URL.Query().Get("limit") != "5" {
				return map[string]any{"ok": false, "error": "bad_query"}
			}
			return map[string]any{
				"ok":                true,
				"messages":          []any{map[string]any{"text": "hi", "ts": "101.0"}},
				"response_metadata": map[string]any{"next_cursor": "next-1"},
			}
		},
	})
	ctx := context.Background()

	channels, err := connector.ListChannels(ctx)
	if err != nil || len(channels) != 2 {
		t.Fatalf("list channels: %#v %v", channels, err)
	}
	channel, err := connector.GetChannel(ctx, "C1")
	if err != nil || channel["id"] != "C1" {
		t.Fatalf("get channel: %#v %v", channel, err)
	}
	page, err := connector.ListMessages(ctx, "C1", core.ListFilter{Limit: 5, Params: map[string]any{"oldest": "100.0"}})
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "next-1" {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestConnector_SendMessage(t *testing.T) {
	connector, _ := newSlackConnector(t, map[string]func(r *http.Request) map[string]any{
		"chat.postMessage": func(r *http.Request) map[string]any {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["channel"] != "C1" || body["text"] != "deploy done" {
				return map[string]any{"ok": false, "error": "invalid_arguments"}
			}
			return map[string]any{"ok": true, "channel": "C1", "ts": "1700000000.1", "message": map[string]any{"text": "deploy done"}}
		},
	})
	out, err := connector.SendMessage(context.Background(), "C1", "deploy done")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out["ts"] != "1700000000.1" || out["channel"] != "C1" {
		t.Fatalf("unexpected result %#v", out)
	}
}

func TestConnector_OkFalseIsRemoteRejected(t *testing.T) {
	connector, _ := newSlackConnector(t, map[string]func(r *http.Request) map[string]any{
		"conversations.info": func(*http.Request) map[string]any {
			return map[string]any{"ok": false, "error": "channel_not_found"}
		},
	})
	_, err := connector.GetChannel(context.Background(), "C404")
	if !core.IsErrorCode(err, core.ErrorRemoteRejected) {
		t.Fatalf("expected remote rejected, got %v", err)
	}
	if apiErrorCode(err) != "channel_not_found" {
		t.Fatalf("expected slack error code to be kept, got %q", apiErrorCode(err))
	}
}

func TestConnector_SearchMessagesNative(t *testing.T) {
	connector, _ := newSlackConnector(t, map[string]func(r *http.Request) map[string]any{
		"search.messages": func(r *http.Request) map[string]any {
			return map[string]any{"ok": true, "messages": map[string]any{
				"total":   7,
				"matches": []any{map[string]any{"text": "incident " + r.URL.Query().Get("query")}},
			}}
		},
	})
	page, err := connector.SearchMessages(context.Background(), "db")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 1 || page.Total != 7 {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestConnector_SearchMessagesFallsBackToHistoryScan(t *testing.T) {
	connector, api := newSlackConnector(t, map[string]func(r *http.Request) map[string]any{
		"search.messages": func(*http.Request) map[string]any {
			return map[string]any{"ok": false, "error": "not_allowed_token_type"}
		},
		"conversations.list": func(*http.Request) map[string]any {
			return map[string]any{"ok": true, "channels": []any{map[string]any{"id": "C1", "name": "ops"}}}
		},
		"conversations.history": func(*http.Request) map[string]any {
			return map[string]any{"ok": true, "messages": []any{
				map[string]any{"text": "Deploy finished"},
				map[string]any{"text": "lunch?"},
			}}
		},
	})
	page, err := connector.SearchMessages(context.Background(), "deploy")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if page.Total != 1 || page.Items[0]["text"] != "Deploy finished" {
		t.Fatalf("unexpected page %#v", page)
	}
	channel, _ := page.Items[0]["channel"].(core.Payload)
	if channel["name"] != "ops" {
		t.Fatalf("expected channel to be attached, got %#v", page.Items[0])
	}
	if len(api.calls) != 3 {
		t.Fatalf("expected search, list and history calls, got %#v", api.calls)
	}
}

func TestConnector_TestConnection(t *testing.T) {
	connector, _ := newSlackConnector(t, map[string]func(r *http.Request) map[string]any{
		"auth.test": func(*http.Request) map[string]any {
			return map[string]any{"ok": true, "team": "Acme", "user": "ana", "team_id": "T1"}
		},
	})
	test, err := connector.TestConnection(context.Background())
	if err != nil || !test.Connected || test.Detail["team"] != "Acme" {
		t.Fatalf("unexpected test %#v %v", test, err)
	}
	if got := connector.Capabilities(context.Background()); got.Capability != core.CapabilityCommunication {
		t.Fatalf("unexpected capabilities %#v", got)
	}
}
