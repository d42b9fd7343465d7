package query

import (
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	TypeStatus             = "connectors.query.status"
	TypeValidate           = "connectors.query.validate"
	TypeAvailableProviders = "connectors.query.providers.available"
	TypeListActivity       = "connectors.query.activity.list"
	TypeConnectorStatus    = "connectors.query.connector.status"
)

type StatusMessage struct {
	UserEmail string
}

func (StatusMessage) Type() string { return TypeStatus }

func (m StatusMessage) Validate() error {
	if strings.TrimSpace(m.UserEmail) == "" {
		return queryValidationError("user_email", "user email is required")
	}
	return nil
}

type ValidateMessage struct {
	Provider  string
	UserEmail string
}

func (ValidateMessage) Type() string { return TypeValidate }

func (m ValidateMessage) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return queryValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.UserEmail) == "" {
		return queryValidationError("user_email", "user email is required")
	}
	return nil
}

type AvailableProvidersMessage struct{}

func (AvailableProvidersMessage) Type() string { return TypeAvailableProviders }

type ListActivityMessage struct {
	Filter core.ActivityFilter
}

func (ListActivityMessage) Type() string { return TypeListActivity }

func (m ListActivityMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

type ConnectorStatusMessage struct {
	Connector string
	UserEmail string
}

func (ConnectorStatusMessage) Type() string { return TypeConnectorStatus }

func (m ConnectorStatusMessage) Validate() error {
	if strings.TrimSpace(m.Connector) == "" {
		return queryValidationError("connector", "connector is required")
	}
	if strings.TrimSpace(m.UserEmail) == "" {
		return queryValidationError("user_email", "user email is required")
	}
	return nil
}
