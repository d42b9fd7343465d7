// Package calendar exposes Google Calendar events as a data connector. The
// calendar defaults to "primary" and can be overridden per call with
// Params["calendar_id"] or a calendar_id payload key.
package calendar

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/google"
	"github.com/goliatone/go-connectors/transport"
)

const (
	ConnectorName     = "calendar"
	APIBaseURL        = "https://www.googleapis.com/calendar/v3"
	defaultCalendarID = "primary"
	defaultPageLimit  = 50
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
		BaseConnector: providers.NewBaseConnector(api, deps, []string{google.ScopeCalendar}),
	}
}

func (c *Connector) TestConnection(ctx context.Context) (core.ConnectionTest, error) {
	return c.ProbeConnection(ctx, func(ctx context.Context) (map[string]any, error) {
		out := map[string]any{}
		if err := c.API.Get(ctx, "users/me/calendarList", map[string]string{"maxResults": "250"}, &out); err != nil {
			return nil, err
		}
		return map[string]any{"calendars": len(providers.ReadList(out, "items"))}, nil
	})
}

// ListItems lists single events ordered by start time. Params may carry
// time_min and time_max as RFC 3339 timestamps.
func (c *Connector) ListItems(ctx context.Context, filter core.ListFilter) (core.Page, error) {
	params := map[string]string{
		"singleEvents": "true",
		"orderBy":      "startTime",
	}
	return c.listEvents(ctx, params, filter)
}

func (c *Connector) GetItem(ctx context.Context, id string) (core.Payload, error) {
	out := core.Payload{}
	err := c.API.Get(ctx, eventPath(defaultCalendarID, id), nil, &out)
	return out, err
}

// CreateItem creates an event from summary, start, end, description,
// location and attendees (comma separated). start and end are RFC 3339
// timestamps, or YYYY-MM-DD for all-day events.
func (c *Connector) CreateItem(ctx context.Context, payload core.Payload) (core.Payload, error) {
	summary := providers.ReadString(payload, "summary")
	start := providers.ReadString(payload, "start")
	end := providers.ReadString(payload, "end")
	if summary == "" || start == "" || end == "" {
		return nil, core.NewBadInputError("calendar event requires summary, start and end")
	}
	event, err := eventBody(payload)
	if err != nil {
		return nil, err
	}
	out := core.Payload{}
	if err := c.API.Post(ctx, eventsPath(calendarID(payload)), event, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateItem patches the event fields present in payload.
func (c *Connector) UpdateItem(ctx context.Context, id string, payload core.Payload) (core.Payload, error) {
	event, err := eventBody(payload)
	if err != nil {
		return nil, err
	}
	if len(event) == 0 {
		return nil, core.NewBadInputError("calendar update payload is empty")
	}
	out := core.Payload{}
	if err := c.API.Patch(ctx, eventPath(calendarID(payload), id), event, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Connector) DeleteItem(ctx context.Context, id string) error {
	return c.API.Delete(ctx, eventPath(defaultCalendarID, id))
}

// SearchItems runs a free text search over event fields.
func (c *Connector) SearchItems(ctx context.Context, query string, filter core.ListFilter) (core.Page, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Page{}, core.NewBadInputError("calendar search requires a query")
	}
	return c.listEvents(ctx, map[string]string{"q": query}, filter)
}

func (c *Connector) listEvents(ctx context.Context, params map[string]string, filter core.ListFilter) (core.Page, error) {
	params["maxResults"] = strconv.Itoa(providers.LimitOr(filter, defaultPageLimit))
	if cursor := strings.TrimSpace(filter.Cursor); cursor != "" {
		params["pageToken"] = cursor
	}
	for key, param := range map[string]string{"time_min": "timeMin", "time_max": "timeMax"} {
		if value := providers.ReadString(filter.Params, key); value != "" {
			params[param] = value
		}
	}
	out := map[string]any{}
	if err := c.API.Get(ctx, eventsPath(calendarID(filter.Params)), params, &out); err != nil {
		return core.Page{}, err
	}
	items := providers.ReadList(out, "items")
	return core.Page{
		Items:      items,
		NextCursor: providers.ReadString(out, "nextPageToken"),
		Total:      len(items),
	}, nil
}

func eventBody(payload core.Payload) (map[string]any, error) {
	event := map[string]any{}
	for _, key := range []string{"summary", "description", "location"} {
		if value := providers.ReadString(payload, key); value != "" {
			event[key] = value
		}
	}
	for _, key := range []string{"start", "end"} {
		value := providers.ReadString(payload, key)
		if value == "" {
			continue
		}
		when, err := eventTime(value)
		if err != nil {
			return nil, err
		}
		event[key] = when
	}
	if attendees := providers.ReadString(payload, "attendees"); attendees != "" {
		list := []map[string]any{}
		for _, email := range strings.Split(attendees, ",") {
			if email = strings.TrimSpace(email); email != "" {
				list = append(list, map[string]any{"email": email})
			}
		}
		event["attendees"] = list
	}
	return event, nil
}

func eventTime(value string) (map[string]any, error) {
	if _, err := time.Parse(time.DateOnly, value); err == nil {
		return map[string]any{"date": value}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, core.NewBadInputError("calendar time must be RFC 3339 or YYYY-MM-DD: " + value)
	}
	return map[string]any{"dateTime": parsed.Format(time.RFC3339), "timeZone": "UTC"}, nil
}

func calendarID(values map[string]any) string {
	if id := providers.ReadString(values, "calendar_id"); id != "" {
		return id
	}
	return defaultCalendarID
}

func eventsPath(calendarID string) string {
	return "calendars/" + url.PathEscape(calendarID) + "/events"
}

func eventPath(calendarID string, eventID string) string {
	return eventsPath(calendarID) + "/" + url.PathEscape(eventID)
}

var _ core.DataConnector = (*Connector)(nil)
