package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Args are the loosely typed operation arguments received from callers.
type Args map[string]any

func (a Args) String(key string) string {
	if a == nil {
		return ""
	}
	switch value := a[key].(type) {
	case string:
		return strings.TrimSpace(value)
	case fmt.Stringer:
		return strings.TrimSpace(value.String())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func (a Args) RequireString(key string) (string, error) {
	value := a.String(key)
	if value == "" {
		return "", NewBadInputError(fmt.Sprintf("argument %q is required", key))
	}
	return value, nil
}

func (a Args) Int(key string) int {
	if a == nil {
		return 0
	}
	switch value := a[key].(type) {
	case int:
		return value
	case int32:
		return int(value)
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func (a Args) Payload(key string) (Payload, error) {
	if a == nil || a[key] == nil {
		return nil, NewBadInputError(fmt.Sprintf("argument %q is required", key))
	}
	switch value := a[key].(type) {
	case map[string]any:
		return copyAnyMap(value), nil
	default:
		return nil, NewBadInputError(fmt.Sprintf("argument %q must be an object", key))
	}
}

// Filter reads the shared list arguments: limit, cursor, query and params.
func (a Args) Filter() ListFilter {
	filter := ListFilter{
		Limit:  a.Int("limit"),
		Cursor: a.String("cursor"),
		Query:  a.String("query"),
	}
	if params, ok := a["params"].(map[string]any); ok {
		filter.Params = copyAnyMap(params)
	}
	return filter
}

type operationInvoker func(ctx context.Context, connector Connector, args Args) (any, error)

var operationInvokers = map[Operation]operationInvoker{
	OpConnect: func(ctx context.Context, c Connector, _ Args) (any, error) {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"connected": true}, nil
	},
	OpTestConnection: func(ctx context.Context, c Connector, _ Args) (any, error) {
		return c.TestConnection(ctx)
	},
	OpGetCapabilities: func(ctx context.Context, c Connector, _ Args) (any, error) {
		return c.Capabilities(ctx), nil
	},

	OpListItems: dataInvoker(func(ctx context.Context, c DataConnector, args Args) (any, error) {
		return c.ListItems(ctx, args.Filter())
	}),
	OpGetItem: dataInvoker(func(ctx context.Context, c DataConnector, args Args) (any, error) {
		id, err := args.RequireString("id")
		if err != nil {
			return nil, err
		}
		return c.GetItem(ctx, id)
	}),
	OpCreateItem: dataInvoker(func(ctx context.Context, c DataConnector, args Args) (any, error) {
		payload, err := args.Payload("payload")
		if err != nil {
			return nil, err
		}
		return c.CreateItem(ctx, payload)
	}),
	OpUpdateItem: dataInvoker(func(ctx context.Context, c DataConnector, args Args) (any, error) {
		id, err := args.RequireString("id")
		if err != nil {
			return nil, err
		}
		payload, err := args.Payload("payload")
		if err != nil {
			return nil, err
		}
		return c.UpdateItem(ctx, id, payload)
	}),
	OpDeleteItem: dataInvoker(func(ctx context.Context, c DataConnector, args Args) (any, error) {
		id, err := args.RequireString("id")
		if err != nil {
			return nil, err
		}
		if err := c.DeleteItem(ctx, id); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true, "id": id}, nil
	}),
	OpSearchItems: dataInvoker(func(ctx context.Context, c DataConnector, args Args) (any, error) {
		query, err := args.RequireString("query")
		if err != nil {
			return nil, err
		}
		return c.SearchItems(ctx, query, args.Filter())
	}),

	OpListChannels: communicationInvoker(func(ctx context.Context, c CommunicationConnector, _ Args) (any, error) {
		return c.ListChannels(ctx)
	}),
	OpGetChannel: communicationInvoker(func(ctx context.Context, c CommunicationConnector, args Args) (any, error) {
		id, err := args.RequireString("channel_id")
		if err != nil {
			return nil, err
		}
		return c.GetChannel(ctx, id)
	}),
	OpListMessages: communicationInvoker(func(ctx context.Context, c CommunicationConnector, args Args) (any, error) {
		id, err := args.RequireString("channel_id")
		if err != nil {
			return nil, err
		}
		return c.ListMessages(ctx, id, args.Filter())
	}),
	OpSendMessage: communicationInvoker(func(ctx context.Context, c CommunicationConnector, args Args) (any, error) {
		id, err := args.RequireString("channel_id")
		if err != nil {
			return nil, err
		}
		text, err := args.RequireString("text")
		if err != nil {
			return nil, err
		}
		return c.SendMessage(ctx, id, text)
	}),
	OpSearchMessages: communicationInvoker(func(ctx context.Context, c CommunicationConnector, args Args) (any, error) {
		query, err := args.RequireString("query")
		if err != nil {
			return nil, err
		}
		return c.SearchMessages(ctx, query)
	}),

	OpListProjects: projectInvoker(func(ctx context.Context, c ProjectConnector, _ Args) (any, error) {
		return c.ListProjects(ctx)
	}),
	OpGetProject: projectInvoker(func(ctx context.Context, c ProjectConnector, args Args) (any, error) {
		id, err := args.RequireString("project_id")
		if err != nil {
			return nil, err
		}
		return c.GetProject(ctx, id)
	}),
	OpListIssues: projectInvoker(func(ctx context.Context, c ProjectConnector, args Args) (any, error) {
		id, err := args.RequireString("project_id")
		if err != nil {
			return nil, err
		}
		return c.ListIssues(ctx, id, args.Filter())
	}),
	OpCreateIssue: projectInvoker(func(ctx context.Context, c ProjectConnector, args Args) (any, error) {
		id, err := args.RequireString("project_id")
		if err != nil {
			return nil, err
		}
		payload, err := args.Payload("payload")
		if err != nil {
			return nil, err
		}
		return c.CreateIssue(ctx, id, payload)
	}),
	OpUpdateIssue: projectInvoker(func(ctx context.Context, c ProjectConnector, args Args) (any, error) {
		id, err := args.RequireString("issue_id")
		if err != nil {
			return nil, err
		}
		payload, err := args.Payload("payload")
		if err != nil {
			return nil, err
		}
		return c.UpdateIssue(ctx, id, payload)
	}),
	OpGetIssue: projectInvoker(func(ctx context.Context, c ProjectConnector, args Args) (any, error) {
		id, err := args.RequireString("issue_id")
		if err != nil {
			return nil, err
		}
		return c.GetIssue(ctx, id)
	}),
}

func dataInvoker(fn func(context.Context, DataConnector, Args) (any, error)) operationInvoker {
	return func(ctx context.Context, c Connector, args Args) (any, error) {
		typed, ok := c.(DataConnector)
		if !ok {
			return nil, errCapabilityMismatch
		}
		return fn(ctx, typed, args)
	}
}

func communicationInvoker(fn func(context.Context, CommunicationConnector, Args) (any, error)) operationInvoker {
	return func(ctx context.Context, c Connector, args Args) (any, error) {
		typed, ok := c.(CommunicationConnector)
		if !ok {
			return nil, errCapabilityMismatch
		}
		return fn(ctx, typed, args)
	}
}

func projectInvoker(fn func(context.Context, ProjectConnector, Args) (any, error)) operationInvoker {
	return func(ctx context.Context, c Connector, args Args) (any, error) {
		typed, ok := c.(ProjectConnector)
		if !ok {
			return nil, errCapabilityMismatch
		}
		return fn(ctx, typed, args)
	}
}

var errCapabilityMismatch = fmt.Errorf("core: connector capability mismatch")

// checkOperation rejects operations outside the registered capability before
// any connector is built.
func checkOperation(reg ConnectorRegistration, op Operation) error {
	owner, known := CapabilityOf(op)
	if !known {
		return NewUnsupportedOperationError(reg.Name, op, reg.Capability)
	}
	if owner != "" && owner != reg.Capability {
		return NewUnsupportedOperationError(reg.Name, op, reg.Capability)
	}
	return nil
}

func invokeOperation(ctx context.Context, handle *ConnectorHandle, op Operation, args Args) (any, error) {
	invoker, ok := operationInvokers[op]
	if !ok {
		return nil, NewUnsupportedOperationError(handle.Name, op, handle.Capability)
	}
	result, err := invoker(ctx, handle.Connector, args)
	if err == errCapabilityMismatch {
		return nil, NewUnsupportedOperationError(handle.Name, op, handle.Capability)
	}
	return result, err
}
