package command

import (
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const (
	TypeAuthURL        = "connectors.command.auth_url"
	TypeHandleCallback = "connectors.command.callback.handle"
	TypeRefresh        = "connectors.command.refresh"
	TypeRevoke         = "connectors.command.revoke"
	TypeDispatch       = "connectors.command.dispatch"
	TypeDisconnect     = "connectors.command.disconnect"
)

type AuthURLMessage struct {
	Request core.AuthURLRequest
}

func (AuthURLMessage) Type() string { return TypeAuthURL }

func (m AuthURLMessage) Validate() error {
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	return nil
}

type HandleCallbackMessage struct {
	Request core.CallbackRequest
}

func (HandleCallbackMessage) Type() string { return TypeHandleCallback }

func (m HandleCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(m.Request.Code) == "" {
		return commandValidationError("code", "authorization code is required")
	}
	if strings.TrimSpace(m.Request.State) == "" {
		return commandValidationError("state", "state is required")
	}
	return nil
}

type RefreshMessage struct {
	Provider  string
	UserEmail string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	return validateCredentialKey(m.Provider, m.UserEmail)
}

type RevokeMessage struct {
	Provider  string
	UserEmail string
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	return validateCredentialKey(m.Provider, m.UserEmail)
}

type DispatchMessage struct {
	Request core.DispatchRequest
}

func (DispatchMessage) Type() string { return TypeDispatch }

func (m DispatchMessage) Validate() error {
	if err := validateCredentialKey(m.Request.Provider, m.Request.UserEmail); err != nil {
		return err
	}
	if strings.TrimSpace(string(m.Request.Operation)) == "" {
		return commandValidationError("operation", "operation is required")
	}
	return nil
}

type DisconnectMessage struct {
	Connector string
	UserEmail string
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.Connector) == "" {
		return commandValidationError("connector", "connector is required")
	}
	if strings.TrimSpace(m.UserEmail) == "" {
		return commandValidationError("user_email", "user email is required")
	}
	return nil
}

func validateCredentialKey(provider string, userEmail string) error {
	if strings.TrimSpace(provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	if strings.TrimSpace(userEmail) == "" {
		return commandValidationError("user_email", "user email is required")
	}
	return nil
}
