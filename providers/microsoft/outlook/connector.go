// Package outlook exposes an Outlook mailbox through Microsoft Graph as a
// data connector.
package outlook

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/microsoft"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName    = "outlook"
	defaultPageLimit = 10
)

type Connector struct {
	providers.BaseConnector
}

func NewConstructor(opts ...providers.ConnectorOption) core.ConnectorConstructor {
	settings := providers.NewConnectorSettings(microsoft.GraphBaseURL, opts...)
	return func(_ context.Context, deps core.ConnectorDeps) (core.Connector, error) {
		return New(settings.APIClient(deps), deps), nil
	}
}

func New(api *transport.APIClient, deps core.ConnectorDeps) *Connector {
	return &Connector{
		BaseConnector: providers.NewBaseConnector(api, deps, []string{"Mail.Read", "Mail.Send", "User.Read"}),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		me := map[string]any{}
		if err := c.API.Get(ctx, "me", nil, &me); err != nil {
			return nil, err
		}
		return map[string]any{
			"display_name": providers.ReadString(me, "displayName"),
			"mail":         providers.ReadString(me, "mail"),
		}, nil
	})
}

// ListItems lists inbox messages newest first. The cursor is the Graph
// @odata.nextLink of the previous page.
func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{
		"$top":     strconv.Itoa(providers.LimitOr(filter, defaultPageLimit)),
		"$orderby": "receivedDateTime desc",
	}
	return c.listMessages(ctx, params, filter.Cursor)
}

func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	out := core.Payload{}
	err := c.API.Get(ctx, "me/messages/"+url.PathEscape(id), nil, &out)
	return out, err
}

// CreateItem sends an email through /me/sendMail. Graph answers 202 with no
// body, so the result only echoes the recipient.
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	to := providers.ReadString(payload, "to")
	subject := providers.ReadString(payload, "subject")
	if to == "" || subject == "" {
		return nil, core.NewBadInputError("outlook message requires to and subject")
	}
	contentType := providers.ReadString(payload, "content_type")
	if contentType == "" {
		contentType = "HTML"
	}
	body, _ := payload["body"].(string)
	message := map[string]any{
		"subject":      subject,
		"body":         map[string]any{"contentType": contentType, "content": body},
		"toRecipients": recipients(to),
	}
	if cc := providers.ReadString(payload, "cc"); cc != "" {
		message["ccRecipients"] = recipients(cc)
	}
	if bcc := providers.ReadString(payload, "bcc"); bcc != "" {
		message["bccRecipients"] = recipients(bcc)
	}
	if err := c.API.Post(ctx, "me/sendMail", map[string]any{"message": message, "saveToSentItems": true}, nil); err != nil {
		return nil, err
	}
	return core.Payload{"sent": true, "to": to, "subject": subject}, nil
}

// UpdateItem patches message properties such as isRead or categories.
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	if len(payload) == 0 {
		return nil, core.NewBadInputError("outlook update payload is empty")
	}
	out := core.Payload{}
	if err := c.API.Patch(ctx, "me/messages/"+url.PathEscape(id), payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	return c.API.Delete(ctx, "me/messages/"+url.PathEscape(id))
}

// SearchItems uses Graph $search, which cannot be combined with $orderby.
func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{
		"$top":    strconv.Itoa(providers.LimitOr(filter, defaultPageLimit)),
		"$search": strconv.Quote(strings.TrimSpace(query)),
	}
	return c.listMessages(ctx, params, filter.Cursor)
}

func (c *Connector) listMessages(ctx context.Context, params map[string]string, cursor string) (core.Page, error) {
	out := map[string]any{}
	var err error
	if strings.TrimSpace(cursor) != "" {
		err = c.API.Get(ctx, cursor, nil, &out)
	} else {
		err = c.API.Get(ctx, "me/messages", params, &out)
	}
	if err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "value")
	return core.Page{
		Items:      items,
		NextCursor: providers.ReadString(out, "@odata.nextLink"),
		Total:      len(items),
	}, nil
}

func recipients(raw string) []map[string]any {
	out := []map[string]any{}
	for _, address := range strings.Split(raw, ",") {
		if address = strings.TrimSpace(address); address != "" {
			out = append(out, map[string]any{"emailAddress": map[string]any{"address": address}})
		}
	}
	return out
}

var _ core.DataConnector = (*Connector)(nil)
