package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type providerRegistration struct {
	config   ProviderConfig
	strategy OAuthStrategy
}

type connectorRegistration struct {
	name        string
	constructor ConnectorConstructor
	capability  Capability
	options     []ConnectorOption
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	credentialStore CredentialStore
	activityLog     ActivityLog
	oauthStateStore OAuthStateStore
	refreshLock     RefreshLock
	registry        *ProviderRegistry
	providers       []providerRegistration
	connectors      []connectorRegistration
	clock           Clock
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

// WithActivityLog sets the durable log; the service wraps it in an AsyncActivityLog.
func WithActivityLog(log ActivityLog) Option {
	return func(b *serviceBuilder) {
		b.activityLog = log
	}
}

func WithOAuthStateStore(store OAuthStateStore) Option {
	return func(b *serviceBuilder) {
		b.oauthStateStore = store
	}
}

func WithRefreshLock(lock RefreshLock) Option {
	return func(b *serviceBuilder) {
		b.refreshLock = lock
	}
}

func WithRegistry(registry *ProviderRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

// WithProvider registers a provider definition at construction time.
func WithProvider(cfg ProviderConfig, strategy OAuthStrategy) Option {
	return func(b *serviceBuilder) {
		b.providers = append(b.providers, providerRegistration{config: cfg, strategy: strategy})
	}
}

func WithConnector(name string, constructor ConnectorConstructor, capability Capability, options ...ConnectorOption) Option {
	return func(b *serviceBuilder) {
		b.connectors = append(b.connectors, connectorRegistration{
			name:        name,
			constructor: constructor,
			capability:  capability,
			options:     append([]ConnectorOption(nil), options...),
		})
	}
}

func WithClock(clock Clock) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("connectors", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           systemClock,
	}
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return copyAnyMap(l.Values), nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, loaded config and runtime overrides in that order.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved.withFallbacks(), nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.RefreshBuffer != 0 {
		layer["refresh_buffer"] = cfg.RefreshBuffer
	}
	if includeZero || cfg.RefreshTimeout != 0 {
		layer["refresh_timeout"] = cfg.RefreshTimeout
	}
	if includeZero || cfg.StateTTL != 0 {
		layer["state_ttl"] = cfg.StateTTL
	}
	if includeZero || cfg.ActivityBuffer != 0 {
		layer["activity_buffer"] = cfg.ActivityBuffer
	}
	if includeZero || cfg.ActivityEnqueueTimeout != 0 {
		layer["activity_enqueue_timeout"] = cfg.ActivityEnqueueTimeout
	}

	providers := map[string]any{}
	for _, name := range sortedKeys(cfg.Providers) {
		creds := cfg.Providers[name]
		if creds.empty() {
			continue
		}
		entry := map[string]any{}
		if v := strings.TrimSpace(creds.ClientID); v != "" {
			entry["client_id"] = v
		}
		if v := strings.TrimSpace(creds.ClientSecret); v != "" {
			entry["client_secret"] = v
		}
		if v := strings.TrimSpace(creds.RedirectURI); v != "" {
			entry["redirect_uri"] = v
		}
		if len(creds.Scopes) > 0 {
			entry["scopes"] = append([]string(nil), creds.Scopes...)
		}
		if v := strings.TrimSpace(creds.TenantID); v != "" {
			entry["tenant_id"] = v
		}
		providers[normalizeProvider(name)] = entry
	}
	if includeZero || len(providers) > 0 {
		layer["providers"] = providers
	}
	return layer
}
