package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-connectors/core"
)

var (
	_ gocmd.Commander[AuthURLMessage]        = (*AuthURLCommand)(nil)
	_ gocmd.Commander[HandleCallbackMessage] = (*HandleCallbackCommand)(nil)
	_ gocmd.Commander[RefreshMessage]        = (*RefreshCommand)(nil)
	_ gocmd.Commander[RevokeMessage]         = (*RevokeCommand)(nil)
	_ gocmd.Commander[DispatchMessage]       = (*DispatchCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]     = (*DisconnectCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
