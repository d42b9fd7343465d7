// Package gmail exposes a Gmail mailbox as a data connector. Items are
// messages; creating an item sends an email.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/google"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName    = "gmail"
	APIBaseURL       = "https://gmail.googleapis.com/gmail/v1/users/me"
	defaultPageLimit = 50
)

type Connector struct {
	providers.BaseConnector
}

func NewConstructor(opts ...providers.ConnectorOption) core.ConnectorConstructor {
	settings := providers.NewConnectorSettings(APIBaseURL, opts...)
	return func(_ context.Context, deps core.ConnectorDeps) (core.Connector, error) {
		return New(settings.APIClient(deps), deps), nil
	}
}

func New(api *transport.APIClient, deps core.ConnectorDeps) *Connector {
	return &Connector{
		BaseConnector: providers.NewBaseConnector(api, deps, []string{
			google.ScopeGmailReadOnly,
			google.ScopeGmailModify,
			google.ScopeGmailSend,
		}),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		profile := map[string]any{}
		if err := c.API.Get(ctx, "profile", nil, &profile); err != nil {
			return nil, err
		}
		return map[string]any{
			"email_address":  providers.ReadString(profile, "emailAddress"),
			"messages_total": providers.ReadInt(profile, "messagesTotal"),
		}, nil
	})
}

func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	return c.listMessages(ctx, filter.Query, filter)
}

func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	out := core.Payload{}
	err := c.API.Get(ctx, "messages/"+url.PathEscape(id), map[string]string{"format": "full"}, &out)
	return out, err
}

// CreateItem sends an email. The payload needs to, subject and body; cc,
// bcc and reply_to are optional.
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	raw, err := buildRawMessage(payload)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := c.API.Post(ctx, "messages/send", map[string]any{"raw": raw}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItem changes message labels (add_labels, remove_labels). mark_read is
// shorthand for removing UNREAD.
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	add := stringList(payload["add_labels"])
	remove := stringList(payload["remove_labels"])
	if read, ok := payload["mark_read"].(bool); ok && read {
		remove = append(remove, "UNREAD")
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil, core.NewBadInputError("gmail update requires add_labels, remove_labels or mark_read")
	}
	out := core.Payload{}
	body := map[string]any{"addLabelIds": add, "removeLabelIds": remove}
	if err := c.API.Post(ctx, "messages/"+url.PathEscape(id)+"/modify", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteItem moves the message to trash.
func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	return c.API.Post(ctx, "messages/"+url.PathEscape(id)+"/trash", nil, nil)
}

func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	return c.listMessages(ctx, query, filter)
}

func (c *Connector) listMessages(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{"maxResults": strconv.Itoa(providers.LimitOr(filter, defaultPageLimit))}
	if strings.TrimSpace(query) != "" {
		params["q"] = strings.TrimSpace(query)
	}
	if filter.Cursor != "" {
		params["pageToken"] = filter.Cursor
	}
	if label, ok := filter.Params["label"].(string); ok && label != "" {
		params["labelIds"] = label
	}
	out := map[string]any{}
	if err := c.API.Get(ctx, "messages", params, &out); err != nil {
		return core.Page{}, err
	}
	return core.Page{
		Items:      providers.ReadList(out, "messages"),
		NextCursor: providers.ReadString(out, "nextPageToken"),
		Total:      int(providers.ReadInt(out, "resultSizeEstimate")),
	}, nil
}

func buildRawMessage(payload core.Payload) (string, error) {
	to := providers.ReadString(payload, "to")
	subject := providers.ReadString(payload, "subject")
	body, _ := payload["body"].(string)
	if to == "" || subject == "" {
		return "", core.NewBadInputError("gmail message requires to and subject")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to)
	for _, header := range []struct{ key, name string }{
		{"cc", "Cc"},
		{"bcc", "Bcc"},
		{"reply_to", "Reply-To"},
	} {
		if value := providers.ReadString(payload, header.key); value != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", header.name, value)
		}
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(b.String())), nil
}

func stringList(value any) []string {
	switch typed := value.(type) {
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if text, ok := item.(string); ok && strings.TrimSpace(text) != "" {
				out = append(out, strings.TrimSpace(text))
			}
		}
		return out
	case string:
		return core.SplitScopes(typed)
	default:
		return []string{}
	}
}

var _ core.DataConnector = (*Connector)(nil)
