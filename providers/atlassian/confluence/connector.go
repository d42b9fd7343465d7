// Package confluence exposes Confluence Cloud pages as a data connector over
// the Atlassian credential.
package confluence

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/atlassian"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName    = "confluence"
	contentPath      = "wiki/rest/api/content"
	defaultPageLimit = 25
	pageExpand       = "body.storage,space,version"
)

type Connector struct {
	providers.BaseConnector
	site *atlassian.Site
}

func NewConstructor(opts ...providers.ConnectorOption) core.ConnectorConstructor {
	settings := providers.NewConnectorSettings(atlassian.GatewayURL, opts...)
	return func(_ context.Context, deps core.ConnectorDeps) (core.Connector, error) {
		return New(settings.APIClient(deps), deps), nil
	}
}

func New(gateway *transport.APIClient, deps core.ConnectorDeps) *Connector {
	return &Connector{
		BaseConnector: providers.NewBaseConnector(gateway, deps, []string{"read:confluence-content.all", "write:confluence-content", "search:confluence"}),
		site:          atlassian.NewSite(gateway, atlassian.ProductConfluence),
	}
}

func (c *Connector) Connect(ctx context.Context) error {
	if err := c.BaseConnector.Connect(ctx); err != nil {
		return err
	}
	return c.site.Resolve(ctx)
}

func (c *Connector) Disconnect(ctx context.Context) error {
	c.site.Forget()
	return c.BaseConnector.Disconnect(ctx)
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		api, err := c.site.API(ctx)
		if err != nil {
			return nil, err
		}
		user := map[string]any{}
		if err := api.Get(ctx, "wiki/rest/api/user/current", nil, &user); err != nil {
			return nil, err
		}
		return map[string]any{
			"account_id":   providers.ReadString(user, "accountId"),
			"display_name": providers.ReadString(user, "displayName"),
			"site":         c.site.Name(),
		}, nil
	})
}

// ListItems lists pages. filter.Params["space"] narrows to one space key and
// the cursor is the start offset.
func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{"type": "page"}
	if space := providers.ReadString(filter.Params, "space"); space != "" {
		params["spaceKey"] = space
	}
	return c.list(ctx, contentPath, params, filter)
}

func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := api.Get(ctx, contentPath+"/"+url.PathEscape(id), map[string]string{"expand": pageExpand}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateItem creates a page from space, title and body (storage format).
// parent_id makes it a child page.
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return nil, err
	}
	space := providers.ReadString(payload, "space")
	title := providers.ReadString(payload, "title")
	if space == "" || title == "" {
		return nil, core.NewBadInputError("confluence page requires space and title")
	}
	body := map[string]any{
		"type":  "page",
		"title": title,
		"space": map[string]any{"key": space},
		"body":  storage(providers.ReadString(payload, "body")),
	}
	if parent := providers.ReadString(payload, "parent_id"); parent != "" {
		body["ancestors"] = []any{map[string]any{"id": parent}}
	}
	out := core.Payload{}
	if err := api.Post(ctx, contentPath, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItem replaces title and/or body. Confluence requires the next
// version number, so the current page is read first.
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	title := providers.ReadString(payload, "title")
	text, hasBody := payload["body"].(string)
	if title == "" && !hasBody {
		return nil, core.NewBadInputError("confluence update requires title or body")
	}
	current, err := c.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = providers.ReadString(current, "title")
	}
	version := providers.ReadInt(providers.ReadMap(current, "version"), "number")
	body := map[string]any{
		"id":      id,
		"type":    providers.ReadString(current, "type"),
		"title":   title,
		"version": map[string]any{"number": version + 1},
	}
	if body["type"] == "" {
		body["type"] = "page"
	}
	if hasBody {
		body["body"] = storage(text)
	} else if existing := providers.ReadMap(current, "body"); existing != nil {
		body["body"] = existing
	}

	api, err := c.site.API(ctx)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := api.Put(ctx, contentPath+"/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	api, err := c.site.API(ctx)
	if err != nil {
		return err
	}
	return api.Delete(ctx, contentPath+"/"+url.PathEscape(id))
}

// SearchItems runs CQL. Plain text is wrapped into a text match.
func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Page{}, core.NewBadInputError("confluence search query is empty")
	}
	cql := query
	if !strings.ContainsAny(query, "=~") {
		cql = "type = page AND text ~ " + strconv.Quote(query)
	}
	return c.list(ctx, contentPath+"/search", map[string]string{"cql": cql}, filter)
}

func (c *Connector) list(ctx context.Context, path string, params map[string]string, filter core.ListFilter) (core.Page, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return core.Page{}, err
	}
	start := 0
	if filter.Cursor != "" {
		start, err = strconv.Atoi(filter.Cursor)
		if err != nil || start < 0 {
			return core.Page{}, core.NewBadInputError("confluence cursor must be a non-negative offset")
		}
	}
	limit := providers.LimitOr(filter, defaultPageLimit)
	params["start"] = strconv.Itoa(start)
	params["limit"] = strconv.Itoa(limit)

	out := map[string]any{}
	if err := api.Get(ctx, path, params, &out); err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "results")
	page := core.Page{Items: items, Total: len(items)}
	if total := int(providers.ReadInt(out, "totalSize")); total > 0 {
		page.Total = total
	}
	if next := providers.ReadString(providers.ReadMap(out, "_links"), "next"); next != "" && len(items) > 0 {
		page.NextCursor = strconv.Itoa(start + len(items))
	}
	return page, nil
}

func storage(value string) map[string]any {
	return map[string]any{
		"storage": map[string]any{"value": value, "representation": "storage"},
	}
}

var _ core.DataConnector = (*Connector)(nil)
