package connectors

import (
	"context"
	"fmt"

	connectorscommand "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/core"
	connectorsquery "github.com/goliatone/go-connectors/query"
)

type CommandQueryService interface {
	connectorscommand.MutatingService
	connectorsquery.StatusReader
	connectorsquery.CredentialValidator
	connectorsquery.ProviderCatalog
	connectorsquery.ActivityReader
	connectorsquery.ConnectorStatusReader
}

type Commands struct {
	AuthURL        *connectorscommand.AuthURLCommand
	HandleCallback *connectorscommand.HandleCallbackCommand
	Refresh        *connectorscommand.RefreshCommand
	Revoke         *connectorscommand.RevokeCommand
	Dispatch       *connectorscommand.DispatchCommand
	Disconnect     *connectorscommand.DisconnectCommand
}

type Queries struct {
	Status             *connectorsquery.StatusQuery
	Validate           *connectorsquery.ValidateQuery
	AvailableProviders *connectorsquery.AvailableProvidersQuery
	ListActivity       *connectorsquery.ListActivityQuery
	ConnectorStatus    *connectorsquery.ConnectorStatusQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	activityReader connectorsquery.ActivityReader
}

// WithActivityReader serves ListActivity from another reader, such as a
// durable activity store, instead of the service.
func WithActivityReader(reader connectorsquery.ActivityReader) FacadeOption {
	return func(options *facadeOptions) {
		options.activityReader = reader
	}
}

// ActivityLogReader exposes an ActivityLog through the activity query.
func ActivityLogReader(log core.ActivityLog) connectorsquery.ActivityReader {
	if log == nil {
		return nil
	}
	return activityLogReader{log: log}
}

type activityLogReader struct {
	log core.ActivityLog
}

func (r activityLogReader) Activity(ctx context.Context, filter core.ActivityFilter) ([]core.ActivityEntry, error) {
	return r.log.List(ctx, filter)
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("connectors: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	var reader connectorsquery.ActivityReader = service
	if cfg.activityReader != nil {
		reader = cfg.activityReader
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		AuthURL:        connectorscommand.NewAuthURLCommand(service),
		HandleCallback: connectorscommand.NewHandleCallbackCommand(service),
		Refresh:        connectorscommand.NewRefreshCommand(service),
		Revoke:         connectorscommand.NewRevokeCommand(service),
		Dispatch:       connectorscommand.NewDispatchCommand(service),
		Disconnect:     connectorscommand.NewDisconnectCommand(service),
	}
	facade.queries = Queries{
		Status:             connectorsquery.NewStatusQuery(service),
		Validate:           connectorsquery.NewValidateQuery(service),
		AvailableProviders: connectorsquery.NewAvailableProvidersQuery(service),
		ListActivity:       connectorsquery.NewListActivityQuery(reader),
		ConnectorStatus:    connectorsquery.NewConnectorStatusQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*core.Service)(nil)
