package gocommand

import (
	"context"
	"errors"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	connectorscommand "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/core"
	connectorsquery "github.com/goliatone/go-connectors/query"
)

// Service is the full surface behind the connectors commands and queries.
// *core.Service satisfies it.
type Service interface {
	connectorscommand.MutatingService
	Status(ctx context.Context, userEmail string) (core.UserStatus, error)
	Validate(ctx context.Context, provider string, userEmail string) (core.ValidationResult, error)
	AvailableProviders(ctx context.Context) []core.ProviderInfo
	Activity(ctx context.Context, filter core.ActivityFilter) ([]core.ActivityEntry, error)
	ConnectorStatus(ctx context.Context, connector string, userEmail string) (core.ConnectorStatus, error)
}

// Subscriptions groups dispatcher subscriptions so they can be released together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterHandlers registers every connectors command and query on adapter
// and subscribes them to the go-command dispatcher. On error nothing stays
// subscribed.
func RegisterHandlers(adapter *RegistryAdapter, svc Service, runnerOpts ...runner.Option) (Subscriptions, error) {
	if svc == nil {
		return nil, errors.New("gocommand: connectors service is required")
	}
	var subs Subscriptions
	add := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	steps := []func() error{
		func() error {
			return add(RegisterAndSubscribe(adapter, connectorscommand.NewAuthURLCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, connectorscommand.NewHandleCallbackCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, connectorscommand.NewRefreshCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, connectorscommand.NewRevokeCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, connectorscommand.NewDispatchCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribe(adapter, connectorscommand.NewDisconnectCommand(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, connectorsquery.NewStatusQuery(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, connectorsquery.NewValidateQuery(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, connectorsquery.NewAvailableProvidersQuery(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, connectorsquery.NewListActivityQuery(svc), runnerOpts...))
		},
		func() error {
			return add(RegisterAndSubscribeQuery(adapter, connectorsquery.NewConnectorStatusQuery(svc), runnerOpts...))
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			subs.Unsubscribe()
			return nil, err
		}
	}
	return subs, nil
}
