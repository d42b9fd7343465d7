package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-connectors/core"
)

var (
	_ gocmd.Querier[StatusMessage, core.UserStatus]                 = (*StatusQuery)(nil)
	_ gocmd.Querier[ValidateMessage, core.ValidationResult]         = (*ValidateQuery)(nil)
	_ gocmd.Querier[AvailableProvidersMessage, []core.ProviderInfo] = (*AvailableProvidersQuery)(nil)
	_ gocmd.Querier[ListActivityMessage, []core.ActivityEntry]      = (*ListActivityQuery)(nil)
	_ gocmd.Querier[ConnectorStatusMessage, core.ConnectorStatus]   = (*ConnectorStatusQuery)(nil)

	_ StatusReader          = (*core.Service)(nil)
	_ CredentialValidator   = (*core.Service)(nil)
	_ ProviderCatalog       = (*core.Service)(nil)
	_ ActivityReader        = (*core.Service)(nil)
	_ ConnectorStatusReader = (*core.Service)(nil)
)
