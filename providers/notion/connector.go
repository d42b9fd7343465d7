package notion

import (
	"context"
	"net/url"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName    = "notion"
	defaultPageLimit = 25
	maxPageLimit     = 100
)

type Connector struct {
	providers.BaseConnector
}

func NewConstructor(opts ...providers.ConnectorOption) core.ConnectorConstructor {
	settings := providers.NewConnectorSettings(APIBaseURL, append([]providers.ConnectorOption{
		providers.WithAPIHeader("Notion-Version", APIVersion),
	}, opts...)...)
	return func(_ context.Context, deps core.ConnectorDeps) (core.Connector, error) {
		return New(settings.APIClient(deps), deps), nil
	}
}

func New(api *transport.APIClient, deps core.ConnectorDeps) *Connector {
	return &Connector{
		BaseConnector: providers.NewBaseConnector(api, deps, nil),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		me := map[string]any{}
		if err := c.API.Get(ctx, "users/me", nil, &me); err != nil {
			return nil, err
		}
		bot := providers.ReadMap(me, "bot")
		return map[string]any{
			"bot_id":         providers.ReadString(me, "id"),
			"name":           providers.ReadString(me, "name"),
			"workspace_name": providers.ReadString(bot, "workspace_name"),
		}, nil
	})
}

// ListItems lists pages shared with the integration, most recently edited first.
func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	return c.search(ctx, "", filter)
}

// GetItem returns the page with its first level of blocks under "content".
func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	page := core.Payload{}
	if err := c.API.Get(ctx, "pages/"+url.PathEscape(id), nil, &page); err != nil {
		return nil, err
	}
	blocks := map[string]any{}
	if err := c.API.Get(ctx, "blocks/"+url.PathEscape(id)+"/children", map[string]string{"page_size": "100"}, &blocks); err != nil {
		return nil, err
	}
	page["content"] = providers.ReadList(blocks, "results")
	return page, nil
}

// CreateItem creates a page under parent_id (a page) or database_id. title
// and content are plain text; properties and children pass through as given.
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	parent := map[string]any{}
	titleKey := "title"
	switch {
	case providers.ReadString(payload, "database_id") != "":
		parent["database_id"] = providers.ReadString(payload, "database_id")
		if key := providers.ReadString(payload, "title_property"); key != "" {
			titleKey = key
		} else {
			titleKey = "Name"
		}
	case providers.ReadString(payload, "parent_id") != "":
		parent["page_id"] = providers.ReadString(payload, "parent_id")
	default:
		return nil, core.NewBadInputError("notion page requires parent_id or database_id")
	}

	properties := providers.ReadMap(payload, "properties")
	if properties == nil {
		properties = map[string]any{}
	}
	if title := providers.ReadString(payload, "title"); title != "" {
		properties[titleKey] = map[string]any{"title": richText(title)}
	}
	if len(properties) == 0 {
		return nil, core.NewBadInputError("notion page requires a title or properties")
	}

	body := map[string]any{"parent": parent, "properties": properties}
	if children, ok := payload["children"].([]any); ok {
		body["children"] = children
	} else if content := providers.ReadString(payload, "content"); content != "" {
		body["children"] = paragraphs(content)
	}
	out := core.Payload{}
	if err := c.API.Post(ctx, "pages", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItem patches page properties, icon, cover or the archived flag.
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	body := map[string]any{}
	for _, key := range []string{"properties", "archived", "icon", "cover"} {
		if value, ok := payload[key]; ok {
			body[key] = value
		}
	}
	if len(body) == 0 {
		return nil, core.NewBadInputError("notion update requires properties, archived, icon or cover")
	}
	out := core.Payload{}
	if err := c.API.Patch(ctx, "pages/"+url.PathEscape(id), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteItem archives the page; Notion has no hard delete.
func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	return c.API.Patch(ctx, "pages/"+url.PathEscape(id), map[string]any{"archived": true}, nil)
}

func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	return c.search(ctx, query, filter)
}

// search pages through /search. filter.Params["object"] may switch to
// "database".
func (c *Connector) search(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	object := providers.ReadString(filter.Params, "object")
	if object == "" {
		object = "page"
	}
	limit := providers.LimitOr(filter, defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	body := map[string]any{
		"filter":    map[string]any{"property": "object", "value": object},
		"sort":      map[string]any{"direction": "descending", "timestamp": "last_edited_time"},
		"page_size": limit,
	}
	if query = strings.TrimSpace(query); query != "" {
		body["query"] = query
	}
	if filter.Cursor != "" {
		body["start_cursor"] = filter.Cursor
	}
	out := map[string]any{}
	if err := c.API.Post(ctx, "search", body, &out); err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "results")
	page := core.Page{Items: items, Total: len(items)}
	if hasMore, _ := out["has_more"].(bool); hasMore {
		page.NextCursor = providers.ReadString(out, "next_cursor")
	}
	return page, nil
}

func richText(text string) []any {
	return []any{map[string]any{"type": "text", "text": map[string]any{"content": text}}}
}

func paragraphs(content string) []any {
	blocks := []any{}
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		blocks = append(blocks, map[string]any{
			"object":    "block",
			"type":      "paragraph",
			"paragraph": map[string]any{"rich_text": richText(line)},
		})
	}
	return blocks
}

var _ core.DataConnector = (*Connector)(nil)
