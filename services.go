package connectors

import "github.com/goliatone/go-connectors/core"

type Config = core.Config

type ProviderCredentials = core.ProviderCredentials

type Option = core.Option

type Service = core.Service

type ProviderConfig = core.ProviderConfig
type ProviderQuirks = core.ProviderQuirks
type OAuthStrategy = core.OAuthStrategy
type CredentialStore = core.CredentialStore
type ActivityLog = core.ActivityLog
type OAuthStateStore = core.OAuthStateStore
type RefreshLock = core.RefreshLock
type MetricsRecorder = core.MetricsRecorder

type Capability = core.Capability
type Operation = core.Operation
type ConnectorConstructor = core.ConnectorConstructor
type ConnectorOption = core.ConnectorOption

type AuthURLRequest = core.AuthURLRequest
type CallbackRequest = core.CallbackRequest
type DispatchRequest = core.DispatchRequest

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithCredentialStore = core.WithCredentialStore
	WithActivityLog     = core.WithActivityLog
	WithOAuthStateStore = core.WithOAuthStateStore
	WithRefreshLock     = core.WithRefreshLock
	WithRegistry        = core.WithRegistry
	WithProvider        = core.WithProvider
	WithConnector       = core.WithConnector
	WithClock           = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// Setup builds a service with the built-in providers and connectors
// registered ahead of opts. Client credentials come from cfg.Providers.
func Setup(cfg Config, builtin []BuiltinOption, opts ...Option) (*Service, error) {
	return core.NewService(cfg, append(BuiltinProviders(builtin...), opts...)...)
}
