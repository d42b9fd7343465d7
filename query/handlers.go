package query

import (
	"context"

	"github.com/goliatone/go-connectors/core"
)

type StatusReader interface {
	Status(ctx context.Context, userEmail string) (core.UserStatus, error)
}

type CredentialValidator interface {
	Validate(ctx context.Context, provider string, userEmail string) (core.ValidationResult, error)
}

type ProviderCatalog interface {
	AvailableProviders(ctx context.Context) []core.ProviderInfo
}

type ActivityReader interface {
	Activity(ctx context.Context, filter core.ActivityFilter) ([]core.ActivityEntry, error)
}

type ConnectorStatusReader interface {
	ConnectorStatus(ctx context.Context, connector string, userEmail string) (core.ConnectorStatus, error)
}

type StatusQuery struct {
	reader StatusReader
}

func NewStatusQuery(reader StatusReader) *StatusQuery {
	return &StatusQuery{reader: reader}
}

func (q *StatusQuery) Query(ctx context.Context, msg StatusMessage) (core.UserStatus, error) {
	if q == nil || q.reader == nil {
		return core.UserStatus{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.Status(ctx, msg.UserEmail)
}

type ValidateQuery struct {
	validator CredentialValidator
}

func NewValidateQuery(validator CredentialValidator) *ValidateQuery {
	return &ValidateQuery{validator: validator}
}

func (q *ValidateQuery) Query(ctx context.Context, msg ValidateMessage) (core.ValidationResult, error) {
	if q == nil || q.validator == nil {
		return core.ValidationResult{}, queryDependencyError("query: credential validator is required")
	}
	return q.validator.Validate(ctx, msg.Provider, msg.UserEmail)
}

type AvailableProvidersQuery struct {
	catalog ProviderCatalog
}

func NewAvailableProvidersQuery(catalog ProviderCatalog) *AvailableProvidersQuery {
	return &AvailableProvidersQuery{catalog: catalog}
}

func (q *AvailableProvidersQuery) Query(ctx context.Context, _ AvailableProvidersMessage) ([]core.ProviderInfo, error) {
	if q == nil || q.catalog == nil {
		return nil, queryDependencyError("query: provider catalog is required")
	}
	return q.catalog.AvailableProviders(ctx), nil
}

type ListActivityQuery struct {
	reader ActivityReader
}

func NewListActivityQuery(reader ActivityReader) *ListActivityQuery {
	return &ListActivityQuery{reader: reader}
}

func (q *ListActivityQuery) Query(ctx context.Context, msg ListActivityMessage) ([]core.ActivityEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: activity reader is required")
	}
	return q.reader.Activity(ctx, msg.Filter)
}

type ConnectorStatusQuery struct {
	reader ConnectorStatusReader
}

func NewConnectorStatusQuery(reader ConnectorStatusReader) *ConnectorStatusQuery {
	return &ConnectorStatusQuery{reader: reader}
}

func (q *ConnectorStatusQuery) Query(ctx context.Context, msg ConnectorStatusMessage) (core.ConnectorStatus, error) {
	if q == nil || q.reader == nil {
		return core.ConnectorStatus{}, queryDependencyError("query: connector status reader is required")
	}
	return q.reader.ConnectorStatus(ctx, msg.Connector, msg.UserEmail)
}
