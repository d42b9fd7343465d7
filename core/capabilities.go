package core

import (
	"context"
	"time"
)

type Capability string

const (
	CapabilityData          Capability = "data"
	CapabilityCommunication Capability = "communication"
	CapabilityProject       Capability = "project"
)

func (c Capability) Valid() bool {
	switch c {
	case CapabilityData, CapabilityCommunication, CapabilityProject:
		return true
	default:
		return false
	}
}

type Operation string

const (
	OpConnect         Operation = "connect"
	OpDisconnect      Operation = "disconnect"
	OpTestConnection  Operation = "test_connection"
	OpGetCapabilities Operation = "get_capabilities"

	OpListItems   Operation = "list_items"
	OpGetItem     Operation = "get_item"
	OpCreateItem  Operation = "create_item"
	OpUpdateItem  Operation = "update_item"
	OpDeleteItem  Operation = "delete_item"
	OpSearchItems Operation = "search_items"

	OpListChannels   Operation = "list_channels"
	OpGetChannel     Operation = "get_channel"
	OpListMessages   Operation = "list_messages"
	OpSendMessage    Operation = "send_message"
	OpSearchMessages Operation = "search_messages"

	OpListProjects Operation = "list_projects"
	OpGetProject   Operation = "get_project"
	OpListIssues   Operation = "list_issues"
	OpCreateIssue  Operation = "create_issue"
	OpUpdateIssue  Operation = "update_issue"
	OpGetIssue     Operation = "get_issue"
)

var commonOperations = []Operation{OpConnect, OpDisconnect, OpTestConnection, OpGetCapabilities}

var capabilityOperations = map[Capability][]Operation{
	CapabilityData: {
		OpListItems, OpGetItem, OpCreateItem, OpUpdateItem, OpDeleteItem, OpSearchItems,
	},
	CapabilityCommunication: {
		OpListChannels, OpGetChannel, OpListMessages, OpSendMessage, OpSearchMessages,
	},
	CapabilityProject: {
		OpListProjects, OpGetProject, OpListIssues, OpCreateIssue, OpUpdateIssue, OpGetIssue,
	},
}

// OperationsFor lists the operations a capability set exposes, common ones first.
func OperationsFor(capability Capability) []Operation {
	ops := append([]Operation(nil), commonOperations...)
	return append(ops, capabilityOperations[capability]...)
}

// CapabilityOf returns the capability that owns op; common operations report "".
func CapabilityOf(op Operation) (Capability, bool) {
	for _, common := range commonOperations {
		if common == op {
			return "", true
		}
	}
	for capability, ops := range capabilityOperations {
		for _, candidate := range ops {
			if candidate == op {
				return capability, true
			}
		}
	}
	return "", false
}

// Payload is an opaque provider-defined structure.
type Payload = map[string]any

type ListFilter struct {
	Limit  int
	Cursor string
	Query  string
	Params map[string]any
}

type Page struct {
	Items      []Payload
	NextCursor string
	Total      int
}

type ConnectionTest struct {
	Connected bool
	Detail    map[string]any
}

type CapabilityInfo struct {
	Capability Capability
	Operations []Operation
	Scopes     []string
}

type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	TestConnection(ctx context.Context) (ConnectionTest, error)
	Capabilities(ctx context.Context) CapabilityInfo
}

type DataConnector interface {
	Connector
	ListItems(ctx context.Context, filter ListFilter) (Page, error)
	GetItem(ctx context.Context, id string) (Payload, error)
	CreateItem(ctx context.Context, payload Payload) (Payload, error)
	UpdateItem(ctx context.Context, id string, payload Payload) (Payload, error)
	DeleteItem(ctx context.Context, id string) error
	SearchItems(ctx context.Context, query string, filter ListFilter) (Page, error)
}

type CommunicationConnector interface {
	Connector
	ListChannels(ctx context.Context) ([]Payload, error)
	GetChannel(ctx context.Context, id string) (Payload, error)
	ListMessages(ctx context.Context, channelID string, filter ListFilter) (Page, error)
	SendMessage(ctx context.Context, channelID string, text string) (Payload, error)
	SearchMessages(ctx context.Context, query string) (Page, error)
}

type ProjectConnector interface {
	Connector
	ListProjects(ctx context.Context) ([]Payload, error)
	GetProject(ctx context.Context, id string) (Payload, error)
	ListIssues(ctx context.Context, projectID string, filter ListFilter) (Page, error)
	CreateIssue(ctx context.Context, projectID string, payload Payload) (Payload, error)
	UpdateIssue(ctx context.Context, id string, payload Payload) (Payload, error)
	GetIssue(ctx context.Context, id string) (Payload, error)
}

func implementsCapability(connector Connector, capability Capability) bool {
	switch capability {
	case CapabilityData:
		_, ok := connector.(DataConnector)
		return ok
	case CapabilityCommunication:
		_, ok := connector.(CommunicationConnector)
		return ok
	case CapabilityProject:
		_, ok := connector.(ProjectConnector)
		return ok
	default:
		return false
	}
}

type DispatchRequest struct {
	Provider  string
	UserEmail string
	Operation Operation
	Args      map[string]any
}

type DispatchResult struct {
	Provider   string
	UserEmail  string
	Operation  Operation
	Capability Capability
	Data       any
}

type ConnectorStatus struct {
	Provider       string
	UserEmail      string
	Capability     Capability
	Connected      bool
	LastSync       *time.Time
	ConnectionTest ConnectionTest
	Capabilities   CapabilityInfo
	Error          string
}
