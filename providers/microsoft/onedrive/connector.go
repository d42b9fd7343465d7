// Package onedrive exposes the signed in user's OneDrive through Microsoft
// Graph as a data connector.
package onedrive

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
	ConnectorName    = "onedrive"
	defaultPageLimit = 50
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
		BaseConnector: providers.NewBaseConnector(api, deps, []string{microsoft.ScopeFilesReadWrite, "User.Read"}),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		drive := map[string]any{}
		if err := c.API.Get(ctx, "me/drive", nil, &drive); err != nil {
			return nil, err
		}
		quota := providers.ReadMap(drive, "quota")
		return map[string]any{
			"drive_id":   providers.ReadString(drive, "id"),
			"drive_type": providers.ReadString(drive, "driveType"),
			"used":       quota["used"],
			"total":      quota["total"],
		}, nil
	})
}

// ListItems lists the children of the root folder, or of
// Params["folder_id"]. The cursor is the Graph @odata.nextLink.
func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{"$top": strconv.Itoa(providers.LimitOr(filter, defaultPageLimit))}
	return c.listPage(ctx, childrenPath(providers.ReadString(filter.Params, "folder_id")), params, filter.Cursor)
}

func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	out := core.Payload{}
	err := c.API.Get(ctx, itemPath(id), nil, &out)
	return out, err
}

// CreateItem creates a folder when folder=true, otherwise uploads content
// under name into parent (or the root). Simple uploads are capped at 4MB by
// Graph.
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	name := providers.ReadString(payload, "name")
	if name == "" {
		return nil, core.NewBadInputError("onedrive item requires a name")
	}
	parent := providers.ReadString(payload, "parent")
	out := core.Payload{}

	if folder, _ := payload["folder"].(bool); folder {
		body := map[string]any{
			"name":                              name,
			"folder":                            map[string]any{},
			"@microsoft.graph.conflictBehavior": "rename",
		}
		if err := c.API.Post(ctx, childrenPath(parent), body, &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	content, _ := payload["content"].(string)
	raw := transport.RawBody{ContentType: contentTypeOr(payload, "text/plain"), Data: []byte(content)}
	if err := c.API.Put(ctx, uploadPath(parent, name), raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItem replaces the file body when content is present and patches the
// remaining properties (name, description, parentReference).
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	if len(payload) == 0 {
		return nil, core.NewBadInputError("onedrive update payload is empty")
	}
	out := core.Payload{}
	if content, ok := payload["content"].(string); ok {
		raw := transport.RawBody{ContentType: contentTypeOr(payload, "text/plain"), Data: []byte(content)}
		if err := c.API.Put(ctx, itemPath(id)+"/content", raw, &out); err != nil {
			return nil, err
		}
	}

	metadata := map[string]any{}
	for key, value := range payload {
		if key == "content" || key == "content_type" {
			continue
		}
		metadata[key] = value
	}
	if len(metadata) == 0 {
		return out, nil
	}
	out = core.Payload{}
	if err := c.API.Patch(ctx, itemPath(id), metadata, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	return c.API.Delete(ctx, itemPath(id))
}

// SearchItems searches file names and content across the drive.
func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Page{}, core.NewBadInputError("onedrive search requires a query")
	}
	path := "me/drive/root/search(q='" + url.PathEscape(strings.ReplaceAll(query, "'", "''")) + "')"
	params := map[string]string{"$top": strconv.Itoa(providers.LimitOr(filter, defaultPageLimit))}
	return c.listPage(ctx, path, params, filter.Cursor)
}

func (c *Connector) listPage(ctx context.Context, path string, params map[string]string, cursor string) (core.Page, error) {
	out := map[string]any{}
	var err error
	if strings.TrimSpace(cursor) != "" {
		err = c.API.Get(ctx, cursor, nil, &out)
	} else {
		err = c.API.Get(ctx, path, params, &out)
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

func itemPath(id string) string {
	return "me/drive/items/" + url.PathEscape(id)
}

func childrenPath(folderID string) string {
	if folderID = strings.TrimSpace(folderID); folderID == "" {
		return "me/drive/root/children"
	}
	return itemPath(folderID) + "/children"
}

func uploadPath(parentID string, name string) string {
	if parentID = strings.TrimSpace(parentID); parentID == "" {
		return "me/drive/root:/" + url.PathEscape(name) + ":/content"
	}
	return itemPath(parentID) + ":/" + url.PathEscape(name) + ":/content"
}

func contentTypeOr(payload core.Payload, fallback string) string {
	if value := providers.ReadString(payload, "content_type"); value != "" {
		return value
	}
	return fallback
}

var _ core.DataConnector = (*Connector)(nil)
