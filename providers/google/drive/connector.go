// Package drive exposes Google Drive files as a data connector. Items are
// file metadata; content is uploaded with the multipart upload endpoint.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/google"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName    = "drive"
	APIBaseURL       = "https://www.googleapis.com/drive/v3"
	defaultPageLimit = 50
	listFields       = "files(id,name,mimeType,size,createdTime,modifiedTime,parents,webViewLink),nextPageToken"
	folderMimeType   = "application/vnd.google-apps.folder"
)

type Connector struct {
	providers.BaseConnector
	upload *transport.APIClient
}

func NewConstructor(opts ...providers.ConnectorOption) core.ConnectorConstructor {
	settings := providers.NewConnectorSettings(APIBaseURL, opts...)
	return func(_ context.Context, deps core.ConnectorDeps) (core.Connector, error) {
		return New(settings.APIClient(deps), deps), nil
	}
}

// New derives the upload client from the API base, so
// https://www.googleapis.com/drive/v3 uploads to /upload/drive/v3.
func New(api *transport.APIClient, deps core.ConnectorDeps) *Connector {
	return &Connector{
		BaseConnector: providers.NewBaseConnector(api, deps, []string{google.ScopeDrive}),
		upload:        api.WithBaseURL(strings.Replace(api.BaseURL, "/drive/v3", "/upload/drive/v3", 1)),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		about := map[string]any{}
		if err := c.API.Get(ctx, "about", map[string]string{"fields": "storageQuota,user"}, &about); err != nil {
			return nil, err
		}
		quota := providers.ReadMap(about, "storageQuota")
		return map[string]any{
			"email_address": providers.ReadString(providers.ReadMap(about, "user"), "emailAddress"),
			"usage":         providers.ReadString(quota, "usage"),
			"limit":         providers.ReadString(quota, "limit"),
		}, nil
	})
}

// ListItems lists files. filter.Query is passed through as a Drive q
// expression; the cursor is the nextPageToken of the previous page.
func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	return c.listFiles(ctx, strings.TrimSpace(filter.Query), filter)
}

func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	out := core.Payload{}
	err := c.API.Get(ctx, "files/"+url.PathEscape(id), map[string]string{"fields": "*"}, &out)
	return out, err
}

// CreateItem creates a file from name, mime_type, parent and content. Without
// content only the metadata is created; folder=true creates a folder.
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	name := providers.ReadString(payload, "name")
	if name == "" {
		return nil, core.NewBadInputError("drive file requires a name")
	}
	metadata := map[string]any{"name": name}
	mimeType := providers.ReadString(payload, "mime_type")
	if folder, _ := payload["folder"].(bool); folder {
		mimeType = folderMimeType
	}
	if mimeType != "" {
		metadata["mimeType"] = mimeType
	}
	if parent := providers.ReadString(payload, "parent"); parent != "" {
		metadata["parents"] = []string{parent}
	}

	out := core.Payload{}
	content, hasContent := payload["content"].(string)
	if !hasContent || mimeType == folderMimeType {
		if err := c.API.Post(ctx, "files", metadata, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	body, err := multipartBody(metadata, mimeType, content)
	if err != nil {
		return nil, err
	}
	if err := c.upload.Do(ctx, "POST", "files", map[string]string{"uploadType": "multipart"}, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItem patches metadata such as name, description or starred. A
// content key replaces the file body as well.
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	if len(payload) == 0 {
		return nil, core.NewBadInputError("drive update payload is empty")
	}
	metadata := map[string]any{}
	for key, value := range payload {
		if key == "content" || key == "mime_type" {
			continue
		}
		metadata[key] = value
	}

	out := core.Payload{}
	path := "files/" + url.PathEscape(id)
	content, hasContent := payload["content"].(string)
	if !hasContent {
		if err := c.API.Patch(ctx, path, metadata, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	body, err := multipartBody(metadata, providers.ReadString(payload, "mime_type"), content)
	if err != nil {
		return nil, err
	}
	if err := c.upload.Do(ctx, "PATCH", path, map[string]string{"uploadType": "multipart"}, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	return c.API.Delete(ctx, "files/"+url.PathEscape(id))
}

// SearchItems accepts a Drive q expression, or plain text which becomes a
// fullText contains clause.
func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Page{}, core.NewBadInputError("drive search requires a query")
	}
	if !isDriveExpression(query) {
		query = "fullText contains '" + strings.ReplaceAll(query, "'", `\'`) + "' and trashed = false"
	}
	return c.listFiles(ctx, query, filter)
}

func (c *Connector) listFiles(ctx context.Context, q string, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{
		"pageSize": strconv.Itoa(providers.LimitOr(filter, defaultPageLimit)),
		"fields":   listFields,
	}
	if q != "" {
		params["q"] = q
	}
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		params["pageToken"] = cursor
	}
	out := map[string]any{}
	if err := c.API.Get(ctx, "files", params, &out); err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "files")
	return core.Page{
		Items:      items,
		NextCursor: providers.ReadString(out, "nextPageToken"),
		Total:      len(items),
	}, nil
}

func isDriveExpression(query string) bool {
	for _, operator := range []string{" contains ", "=", " in ", " has "} {
		if strings.Contains(query, operator) {
			return true
		}
	}
	return false
}

// multipartBody builds the multipart/related body Drive expects: the JSON
// metadata part followed by the media part.
func multipartBody(metadata map[string]any, mimeType string, content string) (transport.RawBody, error) {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return transport.RawBody{}, core.NewBadInputError(fmt.Sprintf("drive metadata: %v", err))
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	parts := []struct {
		contentType string
		data        []byte
	}{
		{contentType: "application/json; charset=UTF-8", data: encoded},
		{contentType: mimeType, data: []byte(content)},
	}
	for _, part := range parts {
		w, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return transport.RawBody{}, err
		}
		if _, err := w.Write(part.data); err != nil {
			return transport.RawBody{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return transport.RawBody{}, err
	}
	return transport.RawBody{
		ContentType: "multipart/related; boundary=" + writer.Boundary(),
		Data:        buf.Bytes(),
	}, nil
}

var _ core.DataConnector = (*Connector)(nil)
