package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-connectors/core"
)

type MutatingService interface {
	AuthURL(ctx context.Context, req core.AuthURLRequest) (core.AuthURLResponse, error)
	HandleCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	Refresh(ctx context.Context, provider string, userEmail string) (core.ProviderStatus, error)
	Revoke(ctx context.Context, provider string, userEmail string) error
	Dispatch(ctx context.Context, req core.DispatchRequest) (core.DispatchResult, error)
	Disconnect(ctx context.Context, connector string, userEmail string) error
}

type AuthURLCommand struct {
	service MutatingService
}

func NewAuthURLCommand(service MutatingService) *AuthURLCommand {
	return &AuthURLCommand{service: service}
}

func (c *AuthURLCommand) Execute(ctx context.Context, msg AuthURLMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: auth url service is required")
	}
	out, err := c.service.AuthURL(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type HandleCallbackCommand struct {
	service MutatingService
}

func NewHandleCallbackCommand(service MutatingService) *HandleCallbackCommand {
	return &HandleCallbackCommand{service: service}
}

func (c *HandleCallbackCommand) Execute(ctx context.Context, msg HandleCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.HandleCallback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.Refresh(ctx, msg.Provider, msg.UserEmail)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeCommand struct {
	service MutatingService
}

func NewRevokeCommand(service MutatingService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	return c.service.Revoke(ctx, msg.Provider, msg.UserEmail)
}

type DispatchCommand struct {
	service MutatingService
}

func NewDispatchCommand(service MutatingService) *DispatchCommand {
	return &DispatchCommand{service: service}
}

func (c *DispatchCommand) Execute(ctx context.Context, msg DispatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Dispatch(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.Connector, msg.UserEmail)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
