package salesforce

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName    = "salesforce"
	defaultObject    = "Account"
	defaultPageLimit = 100
	defaultFields    = "Id, Name, CreatedDate, LastModifiedDate"
)

var searchObjects = []string{"Account", "Contact", "Lead", "Opportunity", "Case"}

// soslReserved are escaped inside a SOSL FIND clause.
var soslReserved = strings.NewReplacer(
	`\`, `\\`, `?`, `\?`, `&`, `\&`, `|`, `\|`, `!`, `\!`, `{`, `\{`, `}`, `\}`,
	`[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`, `^`, `\^`, `~`, `\~`, `*`, `\*`,
	`:`, `\:`, `"`, `\"`, `'`, `\'`, `+`, `\+`, `-`, `\-`,
)

// Connector reads and writes sObjects. Item ids are "Object/RecordId"; a
// bare record id is taken as an Account.
type Connector struct {
	providers.BaseConnector
}

// NewConstructor leaves the base URL empty so each call is rooted at the
// instance_url stored with the credential. WithAPIBaseURL pins it instead.
func NewConstructor(opts ...providers.ConnectorOption) core.ConnectorConstructor {
	settings := providers.NewConnectorSettings("", opts...)
	return func(_ context.Context, deps core.ConnectorDeps) (core.Connector, error) {
		return New(settings.APIClient(deps), deps), nil
	}
}

func New(api *transport.APIClient, deps core.ConnectorDeps) *Connector {
	return &Connector{
		BaseConnector: providers.NewBaseConnector(api, deps, []string{"api", "refresh_token"}),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		api, err := c.instance(ctx)
		if err != nil {
			return nil, err
		}
		limits := map[string]any{}
		if err := api.Get(ctx, dataPath("limits"), nil, &limits); err != nil {
			return nil, err
		}
		requests := providers.ReadMap(limits, "DailyApiRequests")
		return map[string]any{
			"instance_url":      api.BaseURL,
			"api_requests_max":  providers.ReadInt(requests, "Max"),
			"api_requests_left": providers.ReadInt(requests, "Remaining"),
			"api_version":       APIVersion,
		}, nil
	})
}

// ListItems runs a SOQL query over filter.Params["object"] (default
// Account). filter.Query replaces the generated SOQL and the cursor is the
// nextRecordsUrl of the previous page.
func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	api, err := c.instance(ctx)
	if err != nil {
		return core.Page{}, err
	}
	out := map[string]any{}
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		if !strings.HasPrefix(cursor, "/services/data/") {
			return core.Page{}, core.NewBadInputError("salesforce cursor must be a nextRecordsUrl")
		}
		err = api.Get(ctx, cursor, nil, &out)
	} else {
		err = api.Get(ctx, dataPath("query"), map[string]string{"q": soql(filter)}, &out)
	}
	if err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "records")
	page := core.Page{Items: items, Total: int(providers.ReadInt(out, "totalSize"))}
	if done, _ := out["done"].(bool); !done {
		page.NextCursor = providers.ReadString(out, "nextRecordsUrl")
	}
	return page, nil
}

func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	object, recordID, err := splitID(id)
	if err != nil {
		return nil, err
	}
	api, err := c.instance(ctx)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := api.Get(ctx, sobjectPath(object, recordID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateItem inserts payload["fields"] (or the remaining payload keys) as a
// record of payload["object"].
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	object := providers.ReadString(payload, "object")
	if object == "" {
		object = defaultObject
	}
	fields := recordFields(payload)
	if len(fields) == 0 {
		return nil, core.NewBadInputError("salesforce record requires fields")
	}
	api, err := c.instance(ctx)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := api.Post(ctx, sobjectPath(object, ""), fields, &out); err != nil {
		return nil, err
	}
	out["object"] = object
	return out, nil
}

// UpdateItem patches a record. Salesforce answers 204, so the result echoes
// the id.
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	object, recordID, err := splitID(id)
	if err != nil {
		return nil, err
	}
	fields := recordFields(payload)
	if len(fields) == 0 {
		return nil, core.NewBadInputError("salesforce update payload is empty")
	}
	api, err := c.instance(ctx)
	if err != nil {
		return nil, err
	}
	if err := api.Patch(ctx, sobjectPath(object, recordID), fields, nil); err != nil {
		return nil, err
	}
	return core.Payload{"id": recordID, "object": object, "updated": true}, nil
}

func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	object, recordID, err := splitID(id)
	if err != nil {
		return err
	}
	api, err := c.instance(ctx)
	if err != nil {
		return err
	}
	return api.Delete(ctx, sobjectPath(object, recordID))
}

// SearchItems runs SOSL across the common CRM objects, or the objects listed
// in filter.Params["objects"].
func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Page{}, core.NewBadInputError("salesforce search query is empty")
	}
	objects := searchObjects
	if raw := providers.ReadString(filter.Params, "objects"); raw != "" {
		objects = core.SplitScopes(raw)
	}
	sosl := fmt.Sprintf("FIND {%s} IN ALL FIELDS RETURNING %s LIMIT %d",
		soslReserved.Replace(query), strings.Join(objects, ", "), providers.LimitOr(filter, defaultPageLimit))

	api, err := c.instance(ctx)
	if err != nil {
		return core.Page{}, err
	}
	out := map[string]any{}
	if err := api.Get(ctx, dataPath("search"), map[string]string{"q": sosl}, &out); err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "searchRecords")
	return core.Page{Items: items, Total: len(items)}, nil
}

// instance returns a client rooted at the org's instance_url.
func (c *Connector) instance(ctx context.Context) (*transport.APIClient, error) {
	if c.API.BaseURL != "" {
		return c.API, nil
	}
	if c.Deps.Tokens == nil {
		return nil, core.NewNoValidCredentialError(ProviderName, c.Deps.UserEmail)
	}
	record, err := c.Deps.Tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	instanceURL := providers.ReadString(record.Metadata, "instance_url")
	if instanceURL == "" {
		return nil, core.NewBadInputError("salesforce credential is missing instance_url")
	}
	return c.API.WithBaseURL(instanceURL), nil
}

func soql(filter core.ListFilter) string {
	if query := strings.TrimSpace(filter.Query); query != "" {
		return query
	}
	object := providers.ReadString(filter.Params, "object")
	if object == "" {
		object = defaultObject
	}
	fields := providers.ReadString(filter.Params, "fields")
	if fields == "" {
		fields = defaultFields
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY LastModifiedDate DESC LIMIT %d", fields, object, providers.LimitOr(filter, defaultPageLimit))
}

func recordFields(payload core.Payload) map[string]any {
	if fields := providers.ReadMap(payload, "fields"); len(fields) > 0 {
		return fields
	}
	fields := map[string]any{}
	for key, value := range payload {
		if key == "object" || key == "fields" {
			continue
		}
		fields[key] = value
	}
	return fields
}

func splitID(id string) (string, string, error) {
	id = strings.TrimSpace(id)
	object, recordID, found := strings.Cut(id, "/")
	if !found {
		object, recordID = defaultObject, id
	}
	if object == "" || recordID == "" {
		return "", "", core.NewBadInputError("salesforce item id must be Object/RecordId")
	}
	return object, recordID, nil
}

func dataPath(resource string) string {
	return "services/data/" + APIVersion + "/" + resource
}

func sobjectPath(object string, recordID string) string {
	path := dataPath("sobjects/" + url.PathEscape(object))
	if recordID != "" {
		path += "/" + url.PathEscape(recordID)
	}
	return path
}

var _ core.DataConnector = (*Connector)(nil)
