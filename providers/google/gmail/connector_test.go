package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/google"
)

func newTestConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	deps := core.ConnectorDeps{
		Name:       ConnectorName,
		Provider:   google.ProviderConfig(),
		UserEmail:  "ana@example.com",
		Capability: core.CapabilityData,
		Tokens: core.TokenSourceFunc(func(context.Context) (core.TokenRecord, error) {
			return core.TokenRecord{AccessToken: "ya29.token"}, nil
		}),
	}
	construct := NewConstructor(providers.WithConnectorHTTPClient(server.Client()), providers.WithAPIBaseURL(server.URL))
	connector, err := construct(context.Background(), deps)
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := connector.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return connector.(*Connector)
}

func TestConnector_ListItemsPagesMessages(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("maxResults") != "10" || r.URL.Query().Get("pageToken") != "p1" {
			t.Fatalf("unexpected query %v", r.URL.Query())
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1"},{"id":"m2"}],"nextPageToken":"p2","resultSizeEstimate":12}`))
	})

	page, err := connector.ListItems(context.Background(), core.ListFilter{Limit: 10, Cursor: "p1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor != "p2" || page.Total != 12 {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestConnector_SearchItemsSendsQuery(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "from:boss" || r.URL.Query().Get("maxResults") != "50" {
			t.Fatalf("unexpected query %v", r.URL.Query())
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1"}]}`))
	})

	page, err := connector.SearchItems(context.Background(), "from:boss", core.ListFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestConnector_CreateItemSendsRawMessage(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages/send" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		raw, err := base64.URLEncoding.DecodeString(body["raw"])
		if err != nil {
			t.Fatalf("decode raw: %v", err)
		}
		message := string(raw)
		for _, want := range []string{"To: bob@example.com\r\n", "Cc: eve@example.com\r\n", "Subject: Hi\r\n", "\r\n\r\nhello"} {
			if !strings.Contains(message, want) {
				t.Fatalf("expected %q in message %q", want, message)
			}
		}
		_, _ = w.Write([]byte(`{"id":"sent-1","labelIds":["SENT"]}`))
	})

	out, err := connector.CreateItem(context.Background(), core.Payload{
		"to":      "bob@example.com",
		"cc":      "eve@example.com",
		"subject": "Hi",
		"body":    "hello",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out["id"] != "sent-1" {
		t.Fatalf("unexpected response %#v", out)
	}
}

func TestConnector_CreateItemRequiresRecipient(t *testing.T) {
	connector := newTestConnector(t, func(http.ResponseWriter, *http.Request) {
		t.Fatalf("unexpected remote call")
	})
	_, err := connector.CreateItem(context.Background(), core.Payload{"subject": "Hi"})
	if !core.IsErrorCode(err, core.ErrorBadInput) {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestConnector_UpdateItemModifiesLabels(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/m1/modify" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var body map[string][]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body["addLabelIds"]) != 1 || body["addLabelIds"][0] != "STARRED" {
			t.Fatalf("unexpected add labels %#v", body)
		}
		if len(body["removeLabelIds"]) != 1 || body["removeLabelIds"][0] != "UNREAD" {
			t.Fatalf("unexpected remove labels %#v", body)
		}
		_, _ = w.Write([]byte(`{"id":"m1"}`))
	})

	if _, err := connector.UpdateItem(context.Background(), "m1", core.Payload{
		"add_labels": []any{"STARRED"},
		"mark_read":  true,
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestConnector_DeleteItemTrashes(t *testing.T) {
	var path string
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"m1"}`))
	})
	if err := connector.DeleteItem(context.Background(), "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if path != "/messages/m1/trash" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestConnector_TestConnection(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profile" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"emailAddress":"ana@example.com","messagesTotal":42}`))
	})
	test, err := connector.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if !test.Connected || test.Detail["email_address"] != "ana@example.com" || test.Detail["messages_total"] != int64(42) {
		t.Fatalf("unexpected test result %#v", test)
	}
}

func TestConnector_TestConnectionRejected(t *testing.T) {
	connector := newTestConnector(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	test, err := connector.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("expected rejection folded into result, got %v", err)
	}
	if test.Connected {
		t.Fatalf("expected failed connection test")
	}
}
