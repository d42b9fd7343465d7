package slack

import (
	"context"
	"strconv"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName        = "slack"
	defaultChannelLimit  = 200
	defaultMessageLimit  = 50
	defaultSearchResults = 20
)

// search.messages only accepts user tokens; these codes switch to scanning
// channel history instead.
var searchFallbackCodes = map[string]struct{}{
	"not_allowed_token_type": {},
	"missing_scope":          {},
}

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
		BaseConnector: providers.NewBaseConnector(api, deps, ProviderConfig().DefaultScopes),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		out, err := callAPI(ctx, c.API, "auth.test", nil, nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"team":    providers.ReadString(out, "team"),
			"user":    providers.ReadString(out, "user"),
			"team_id": providers.ReadString(out, "team_id"),
		}, nil
	})
}

func (c *Connector) ListChannels(ctx context.Context) ([]core.Payload, error) {
	out, err := callAPI(ctx, c.API, "conversations.list", map[string]string{
		"limit":            strconv.Itoa(defaultChannelLimit),
		"exclude_archived": "true",
		"types":            "public_channel,private_channel",
	}, nil)
	if err != nil {
		return nil, err
	}
	return providers.ReadList(out, "channels"), nil
}

func (c *Connector) GetChannel(ctx context.Context, id string) (core.Payload, error) {
	out, err := callAPI(ctx, c.API, "conversations.info", map[string]string{"channel": id}, nil)
	if err != nil {
		return nil, err
	}
	return providers.ReadMap(out, "channel"), nil
}

// ListMessages reads channel history. filter.Params may carry oldest and
// latest Slack timestamps.
func (c *Connector) ListMessages(ctx context.Context, channelID string, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{
		"channel": channelID,
		"limit":   strconv.Itoa(providers.LimitOr(filter, defaultMessageLimit)),
	}
	if filter.Cursor != "" {
		params["cursor"] = filter.Cursor
	}
	for _, key := range []string{"oldest", "latest"} {
		if value := providers.ReadString(filter.Params, key); value != "" {
			params[key] = value
		}
	}
	out, err := callAPI(ctx, c.API, "conversations.history", params, nil)
	if err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "messages")
	return core.Page{
		Items:      items,
		NextCursor: providers.ReadString(providers.ReadMap(out, "response_metadata"), "next_cursor"),
		Total:      len(items),
	}, nil
}

func (c *Connector) SendMessage(ctx context.Context, channelID string, text string) (core.Payload, error) {
	out, err := callAPI(ctx, c.API, "chat.postMessage", nil, map[string]any{
		"channel": channelID,
		"text":    text,
	})
	if err != nil {
		return nil, err
	}
	return core.Payload{
		"channel": providers.ReadString(out, "channel"),
		"ts":      providers.ReadString(out, "ts"),
		"message": providers.ReadMap(out, "message"),
	}, nil
}

func (c *Connector) SearchMessages(ctx context.Context, query string) (core.Page, error) {
	out, err := callAPI(ctx, c.API, "search.messages", map[string]string{
		"query":    query,
		"count":    strconv.Itoa(defaultSearchResults),
		"sort":     "timestamp",
		"sort_dir": "desc",
	}, nil)
	if err != nil {
		if _, fallback := searchFallbackCodes[apiErrorCode(err)]; fallback {
			return c.scanMessages(ctx, query)
		}
		return core.Page{}, err
	}
	messages := providers.ReadMap(out, "messages")
	items := providers.ReadList(messages, "matches")
	total := int(providers.ReadInt(messages, "total"))
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
		if id == "" {
			continue
		}
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

var _ core.CommunicationConnector = (*Connector)(nil)
