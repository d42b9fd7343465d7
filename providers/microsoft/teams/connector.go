// Package teams exposes Microsoft Teams channels through Graph as a
// communication connector. Channel ids are "<team id>/<channel id>" since
// Graph addresses every channel under its team.
package teams

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
	ConnectorName        = "teams"
	defaultMessageLimit  = 50
	defaultSearchResults = 25
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
		BaseConnector: providers.NewBaseConnector(api, deps, []string{
			microsoft.ScopeTeamReadBasic,
			microsoft.ScopeChannelReadBasic,
			microsoft.ScopeChannelMessageRead,
			microsoft.ScopeChannelMessageSend,
		}),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		teams, err := c.joinedTeams(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"teams": len(teams)}, nil
	})
}

// ListChannels flattens the channels of every joined team.
func (c *Connector) ListChannels(ctx context.Context) ([]core.Payload, error) {
	teams, err := c.joinedTeams(ctx)
	if err != nil {
		return nil, err
	}
	channels := []core.Payload{}
	for _, team := range teams {
		teamID := providers.ReadString(team, "id")
		if teamID == "" {
			continue
		}
		out := map[string]any{}
		if err := c.API.Get(ctx, "teams/"+url.PathEscape(teamID)+"/channels", nil, &out); err != nil {
			return nil, err
		}
		for _, channel := range providers.ReadList(out, "value") {
			channels = append(channels, channelPayload(team, channel))
		}
	}
	return channels, nil
}

func (c *Connector) GetChannel(ctx context.Context, id string) (core.Payload, error) {
	teamID, channelID, err := splitChannelID(id)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := c.API.Get(ctx, channelPath(teamID, channelID), nil, &out); err != nil {
		return nil, err
	}
	return channelPayload(core.Payload{"id": teamID}, out), nil
}

// ListMessages reads top level channel messages newest first. Each message
// gains a "text" field copied from body.content.
func (c *Connector) ListMessages(ctx context.Context, channelID string, filter core.ListFilter) (core.Page, error) {
	teamID, channel, err := splitChannelID(channelID)
	if err != nil {
		return core.Page{}, err
	}
	out := map[string]any{}
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		err = c.API.Get(ctx, cursor, nil, &out)
	} else {
		err = c.API.Get(ctx, channelPath(teamID, channel)+"/messages", map[string]string{
			"$top": strconv.Itoa(providers.LimitOr(filter, defaultMessageLimit)),
		}, &out)
	}
	if err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "value")
	for _, message := range items {
		message["text"] = providers.ReadString(providers.ReadMap(message, "body"), "content")
	}
	return core.Page{
		Items:      items,
		NextCursor: providers.ReadString(out, "@odata.nextLink"),
		Total:      len(items),
	}, nil
}

func (c *Connector) SendMessage(ctx context.Context, channelID string, text string) (core.Payload, error) {
	teamID, channel, err := splitChannelID(channelID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, core.NewBadInputError("teams message requires text")
	}
	out := core.Payload{}
	body := map[string]any{"body": map[string]any{"content": text}}
	if err := c.API.Post(ctx, channelPath(teamID, channel)+"/messages", body, &out); err != nil {
		return nil, err
	}
	return core.Payload{
		"id":         providers.ReadString(out, "id"),
		"channel_id": channelID,
		"created_at": providers.ReadString(out, "createdDateTime"),
		"message":    out,
	}, nil
}

// SearchMessages uses the Graph search API. Tenants that reject it for
// chatMessage entities fall back to scanning channel history.
func (c *Connector) SearchMessages(ctx context.Context, query string) (core.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Page{}, core.NewBadInputError("teams search requires a query")
	}
	request := map[string]any{
		"requests": []map[string]any{{
			"entityTypes": []string{"chatMessage"},
			"query":       map[string]any{"queryString": query},
			"from":        0,
			"size":        defaultSearchResults,
		}},
	}
	out := map[string]any{}
	if err := c.API.Post(ctx, "search/query", request, &out); err != nil {
		if core.IsErrorCode(err, core.ErrorRemoteRejected) {
			return c.scanMessages(ctx, query)
		}
		return core.Page{}, err
	}

	responses := providers.ReadList(out, "value")
	if len(responses) == 0 {
		return core.Page{Items: []core.Payload{}}, nil
	}
	containers := providers.ReadList(responses[0], "hitsContainers")
	if len(containers) == 0 {
		return core.Page{Items: []core.Payload{}}, nil
	}
	items := []core.Payload{}
	for _, hit := range providers.ReadList(containers[0], "hits") {
		resource := providers.ReadMap(hit, "resource")
		items = append(items, core.Payload{
			"id":      providers.ReadString(hit, "hitId"),
			"text":    providers.ReadString(hit, "summary"),
			"message": resource,
		})
	}
	total := int(providers.ReadInt(containers[0], "total"))
	if total == 0 {
		total = len(items)
	}
	return core.Page{Items: items, Total: total}, nil
}

func (c *Connector) scanMessages(ctx context.Context, query string) (core.Page, error) {
	channels, err := c.ListChannels(ctx)
	if err != nil {
		return core.Page{}, err
	}
	matches := []core.Payload{}
	for _, channel := range channels {
		id := providers.ReadString(channel, "id")
		page, err := c.ListMessages(ctx, id, core.ListFilter{})
		if err != nil {
			return core.Page{}, err
		}
		for _, message := range providers.FilterMessages(page.Items, query) {
			message["channel"] = core.Payload{"id": id, "name": providers.ReadString(channel, "name")}
			matches = append(matches, message)
		}
	}
	return core.Page{Items: matches, Total: len(matches)}, nil
}

func (c *Connector) joinedTeams(ctx context.Context) ([]core.Payload, error) {
	out := map[string]any{}
	if err := c.API.Get(ctx, "me/joinedTeams", nil, &out); err != nil {
		return nil, err
	}
	return providers.ReadList(out, "value"), nil
}

func channelPayload(team core.Payload, channel core.Payload) core.Payload {
	teamID := providers.ReadString(team, "id")
	channelID := providers.ReadString(channel, "id")
	return core.Payload{
		"id":          teamID + "/" + channelID,
		"channel_id":  channelID,
		"team_id":     teamID,
		"team_name":   providers.ReadString(team, "displayName"),
		"name":        providers.ReadString(channel, "displayName"),
		"description": providers.ReadString(channel, "description"),
		"web_url":     providers.ReadString(channel, "webUrl"),
	}
}

func channelPath(teamID string, channelID string) string {
	return "teams/" + url.PathEscape(teamID) + "/channels/" + url.PathEscape(channelID)
}

func splitChannelID(id string) (string, string, error) {
	teamID, channelID, ok := strings.Cut(strings.TrimSpace(id), "/")
	if !ok || teamID == "" || channelID == "" {
		return "", "", core.NewBadInputError("teams channel id must be <team id>/<channel id>")
	}
	return teamID, channelID, nil
}

var _ core.CommunicationConnector = (*Connector)(nil)
