// Package jira exposes Jira Cloud projects and issues as a project
// connector over the Atlassian credential.
package jira

import (
	"context"
	"maps"
	"net/url"
	"strconv"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/atlassian"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName     = "jira"
	defaultIssueLimit = 50
	defaultIssueType  = "Task"
)

var issueFields = []string{"summary", "status", "assignee", "created", "updated"}

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

// New wraps a gateway client. The product base URL is only known once the
// cloud id has been resolved on Connect.
func New(gateway *transport.APIClient, deps core.ConnectorDeps) *Connector {
	return &Connector{
		BaseConnector: providers.NewBaseConnector(gateway, deps, []string{"read:jira-work", "write:jira-work", "read:jira-user"}),
		site:          atlassian.NewSite(gateway, atlassian.ProductJira),
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
		me := map[string]any{}
		if err := api.Get(ctx, "rest/api/3/myself", nil, &me); err != nil {
			return nil, err
		}
		return map[string]any{
			"account_id":   providers.ReadString(me, "accountId"),
			"display_name": providers.ReadString(me, "displayName"),
			"site":         c.site.Name(),
		}, nil
	})
}

func (c *Connector) ListProjects(ctx context.Context) ([]core.Payload, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return nil, err
	}
	var out []core.Payload
	if err := api.Get(ctx, "rest/api/3/project", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []core.Payload{}
	}
	return out, nil
}

func (c *Connector) GetProject(ctx context.Context, id string) (core.Payload, error) {
	return c.get(ctx, "rest/api/3/project/"+url.PathEscape(id))
}

// ListIssues runs a JQL search. filter.Query replaces the default
// "project = X" clause and filter.Cursor is the startAt offset.
func (c *Connector) ListIssues(ctx context.Context, projectID string, filter core.ListFilter) (core.Page, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return core.Page{}, err
	}
	jql := strings.TrimSpace(filter.Query)
	if jql == "" {
		if strings.TrimSpace(projectID) == "" {
			return core.Page{}, core.NewBadInputError("jira issue search requires a project or a jql query")
		}
		jql = "project = " + strconv.Quote(projectID) + " ORDER BY updated DESC"
	}
	startAt := 0
	if filter.Cursor != "" {
		startAt, err = strconv.Atoi(filter.Cursor)
		if err != nil || startAt < 0 {
			return core.Page{}, core.NewBadInputError("jira cursor must be a non-negative offset")
		}
	}
	limit := providers.LimitOr(filter, defaultIssueLimit)

	out := map[string]any{}
	if err := api.Post(ctx, "rest/api/3/search", map[string]any{
		"jql":        jql,
		"startAt":    startAt,
		"maxResults": limit,
		"fields":     issueFields,
	}, &out); err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "issues")
	total := int(providers.ReadInt(out, "total"))
	page := core.Page{Items: items, Total: total}
	if next := startAt + len(items); len(items) > 0 && next < total {
		page.NextCursor = strconv.Itoa(next)
	}
	return page, nil
}

// CreateIssue accepts either a raw "fields" object or the flat keys
// summary, description, issue_type and assignee.
func (c *Connector) CreateIssue(ctx context.Context, projectID string, payload core.Payload) (core.Payload, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return nil, err
	}
	fields := maps.Clone(providers.ReadMap(payload, "fields"))
	if len(fields) == 0 {
		summary := providers.ReadString(payload, "summary")
		if summary == "" {
			return nil, core.NewBadInputError("jira issue requires a summary")
		}
		issueType := providers.ReadString(payload, "issue_type")
		if issueType == "" {
			issueType = defaultIssueType
		}
		fields = core.Payload{
			"summary":   summary,
			"issuetype": map[string]any{"name": issueType},
		}
		if description := providers.ReadString(payload, "description"); description != "" {
			fields["description"] = document(description)
		}
		if assignee := providers.ReadString(payload, "assignee"); assignee != "" {
			fields["assignee"] = map[string]any{"accountId": assignee}
		}
	}
	if _, ok := fields["project"]; !ok {
		if strings.TrimSpace(projectID) == "" {
			return nil, core.NewBadInputError("jira issue requires a project")
		}
		fields["project"] = map[string]any{"key": projectID}
	}
	out := core.Payload{}
	if err := api.Post(ctx, "rest/api/3/issue", map[string]any{"fields": fields}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateIssue edits issue fields. Jira answers 204, so the result echoes
// the id and the fields sent.
func (c *Connector) UpdateIssue(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return nil, err
	}
	fields := maps.Clone(providers.ReadMap(payload, "fields"))
	if len(fields) == 0 {
		fields = core.Payload{}
		for key, value := range payload {
			fields[key] = value
		}
	}
	if len(fields) == 0 {
		return nil, core.NewBadInputError("jira update payload is empty")
	}
	if description, ok := fields["description"].(string); ok {
		fields["description"] = document(description)
	}
	if err := api.Put(ctx, "rest/api/3/issue/"+url.PathEscape(id), map[string]any{"fields": fields}, nil); err != nil {
		return nil, err
	}
	return core.Payload{"id": id, "updated": true, "fields": fields}, nil
}

func (c *Connector) GetIssue(ctx context.Context, id string) (core.Payload, error) {
	return c.get(ctx, "rest/api/3/issue/"+url.PathEscape(id))
}

func (c *Connector) get(ctx context.Context, path string) (core.Payload, error) {
	api, err := c.site.API(ctx)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := api.Get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// document wraps plain text in the Atlassian document format v3 expects.
func document(text string) map[string]any {
	return map[string]any{
		"type":    "doc",
		"version": 1,
		"content": []any{
			map[string]any{
				"type":    "paragraph",
				"content": []any{map[string]any{"type": "text", "text": text}},
			},
		},
	}
}

var _ core.ProjectConnector = (*Connector)(nil)
