package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"
)

const statusFanOutLimit = 8

// Service is the explicit context that owns every registry and store. There
// is no package level state; build one with NewService and share the pointer.
type Service struct {
	config         Config
	logger         Logger
	loggerProvider LoggerProvider
	telemetry      telemetry
	registry       *ProviderRegistry
	store          CredentialStore
	activity       *AsyncActivityLog
	stateStore     OAuthStateStore
	coordinator    *OAuthCoordinator
	factory        *ConnectorFactory
	now            Clock

	closeOnce sync.Once
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("connectors", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("connectors"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = systemClock
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(err)
	}
	finalConfig = finalConfig.withFallbacks()

	registry := builder.registry
	if registry == nil {
		registry = NewProviderRegistry()
	}
	for _, reg := range builder.providers {
		if err := registry.Register(reg.config, reg.strategy); err != nil {
			return nil, mapBuildError(err)
		}
	}
	registry.configure(finalConfig)

	store := builder.credentialStore
	if store == nil {
		store = NewMemoryCredentialStore(finalConfig.RefreshBuffer)
	}
	durable := builder.activityLog
	if durable == nil {
		durable = NewMemoryActivityLog()
	}
	activity, err := NewAsyncActivityLog(durable, finalConfig.ActivityBuffer, finalConfig.ActivityEnqueueTimeout, logger)
	if err != nil {
		return nil, mapBuildError(err)
	}
	stateStore := builder.oauthStateStore
	if stateStore == nil {
		stateStore = NewMemoryOAuthStateStore(finalConfig.StateTTL)
	}

	coordinator, err := NewOAuthCoordinator(CoordinatorConfig{
		Registry:       registry,
		Store:          store,
		Activity:       activity,
		Lock:           builder.refreshLock,
		Logger:         logger,
		Metrics:        builder.metricsRecorder,
		RefreshBuffer:  finalConfig.RefreshBuffer,
		RefreshTimeout: finalConfig.RefreshTimeout,
		Clock:          builder.clock,
	})
	if err != nil {
		activity.Close()
		return nil, mapBuildError(err)
	}
	factory, err := NewConnectorFactory(ConnectorFactoryConfig{
		Registry:            registry,
		Tokens:              coordinator,
		Activity:            activity,
		Logger:              logger,
		Metrics:             builder.metricsRecorder,
		ConstructionTimeout: finalConfig.RefreshTimeout,
		Clock:               builder.clock,
	})
	if err != nil {
		activity.Close()
		return nil, mapBuildError(err)
	}
	for _, reg := range builder.connectors {
		if err := factory.Register(reg.name, reg.constructor, reg.capability, reg.options...); err != nil {
			activity.Close()
			return nil, mapBuildError(err)
		}
	}

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		telemetry:      newTelemetry(finalConfig.ServiceName, logger, builder.metricsRecorder),
		registry:       registry,
		store:          store,
		activity:       activity,
		stateStore:     stateStore,
		coordinator:    coordinator,
		factory:        factory,
		now:            builder.clock,
	}, nil
}

func mapBuildError(err error) error {
	if err == nil {
		return nil
	}
	return MapError(err)
}

func (s *Service) Config() Config {
	return s.config
}

func (s *Service) Registry() *ProviderRegistry {
	return s.registry
}

func (s *Service) Coordinator() *OAuthCoordinator {
	return s.coordinator
}

func (s *Service) Factory() *ConnectorFactory {
	return s.factory
}

func (s *Service) CredentialStore() CredentialStore {
	return s.store
}

func (s *Service) Logger() Logger {
	return s.logger
}

// AuthURL builds the provider authorize URL and remembers the state for the callback.
func (s *Service) AuthURL(ctx context.Context, req AuthURLRequest) (resp AuthURLResponse, err error) {
	startedAt := time.Now()
	fields := map[string]any{"provider": normalizeProvider(req.Provider), "user_email": normalizeEmail(req.UserEmail)}
	defer func() {
		s.telemetry.observe(ctx, startedAt, "auth_url", err, fields)
	}()

	cfg, _, err := s.registry.Resolve(req.Provider)
	if err != nil {
		return AuthURLResponse{}, err
	}
	state := strings.TrimSpace(req.State)
	if state == "" {
		state, err = GenerateOAuthState()
		if err != nil {
			return AuthURLResponse{}, MapError(err)
		}
	}
	scopes := cfg.ResolveScopes(req.Scopes)
	url, err := s.coordinator.BuildAuthorizeURL(cfg.Name, state, scopes)
	if err != nil {
		return AuthURLResponse{}, err
	}
	if err := s.stateStore.Save(ctx, OAuthStateRecord{
		State:     state,
		Provider:  cfg.Name,
		UserEmail: req.UserEmail,
		Scopes:    scopes,
	}); err != nil {
		return AuthURLResponse{}, storageError("save_state", err)
	}
	return AuthURLResponse{Provider: cfg.Name, URL: url, State: state}, nil
}

// HandleCallback consumes the state once and exchanges the code. A state that
// is unknown, expired or issued for another provider creates no record.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	startedAt := time.Now()
	fields := map[string]any{"provider": normalizeProvider(req.Provider)}
	defer func() {
		s.telemetry.observe(ctx, startedAt, "handle_callback", err, fields)
	}()

	cfg, _, err := s.registry.Resolve(req.Provider)
	if err != nil {
		return CallbackResult{}, err
	}
	if strings.TrimSpace(req.State) == "" {
		return CallbackResult{}, NewOAuthStateInvalidError(cfg.Name, "state is required")
	}
	stateRecord, err := s.stateStore.Consume(ctx, req.State)
	if err != nil {
		switch {
		case errors.Is(err, ErrOAuthStateExpired):
			return CallbackResult{}, NewOAuthStateInvalidError(cfg.Name, "state expired")
		case errors.Is(err, ErrOAuthStateNotFound):
			return CallbackResult{}, NewOAuthStateInvalidError(cfg.Name, "state not recognized")
		default:
			return CallbackResult{}, storageError("consume_state", err)
		}
	}
	if stateRecord.Provider != cfg.Name {
		return CallbackResult{}, NewOAuthStateInvalidError(cfg.Name, "state was issued for another provider")
	}
	fields["user_email"] = stateRecord.UserEmail

	exchanged, err := s.coordinator.exchange(ctx, cfg.Name, stateRecord.UserEmail, req.Code, stateRecord.Scopes)
	if err != nil {
		return CallbackResult{}, err
	}
	fields["user_email"] = exchanged.Record.UserEmail
	return CallbackResult{
		Provider:  cfg.Name,
		UserEmail: exchanged.Record.UserEmail,
		Scopes:    append([]string(nil), exchanged.Record.Scopes...),
		ExpiresAt: exchanged.Record.ExpiresAt,
		UserInfo:  copyAnyMap(exchanged.UserInfo),
	}, nil
}

// Refresh forces a token refresh and reports the new state without exposing tokens.
func (s *Service) Refresh(ctx context.Context, provider string, userEmail string) (ProviderStatus, error) {
	record, err := s.coordinator.Refresh(ctx, provider, userEmail)
	if err != nil {
		return ProviderStatus{}, err
	}
	return s.statusFromRecord(record), nil
}

func (s *Service) Validate(ctx context.Context, provider string, userEmail string) (ValidationResult, error) {
	return s.coordinator.Validate(ctx, provider, userEmail)
}

// Revoke deletes the credential and evicts connectors built on it.
func (s *Service) Revoke(ctx context.Context, provider string, userEmail string) error {
	if err := s.coordinator.Revoke(ctx, provider, userEmail); err != nil {
		return err
	}
	s.factory.EvictCredential(ctx, provider, userEmail)
	return nil
}

// Status validates every registered provider for user, refreshing credentials
// inside the buffer. Providers run concurrently; a failing provider becomes an
// entry with Error set.
func (s *Service) Status(ctx context.Context, userEmail string) (status UserStatus, err error) {
	startedAt := time.Now()
	user := normalizeEmail(userEmail)
	fields := map[string]any{"user_email": user}
	defer func() {
		s.telemetry.observe(ctx, startedAt, "status", err, fields)
	}()
	if user == "" {
		return UserStatus{}, NewBadInputError("user email is required")
	}

	names := s.registry.Names()
	status = UserStatus{UserEmail: user, Providers: make(map[string]ProviderStatus, len(names))}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(statusFanOutLimit)
	for _, name := range names {
		group.Go(func() error {
			entry := s.providerStatus(groupCtx, name, user)
			mu.Lock()
			status.Providers[name] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return UserStatus{}, MapError(err)
	}
	fields["providers"] = len(names)
	return status, nil
}

func (s *Service) providerStatus(ctx context.Context, provider string, user string) ProviderStatus {
	entry := ProviderStatus{Provider: provider}
	result, err := s.coordinator.Validate(ctx, provider, user)
	if err != nil {
		entry.Error = MapError(err).Message
		return entry
	}
	entry.Connected = result.Valid
	entry.Scopes = result.Scopes
	entry.ExpiresAt = result.ExpiresAt
	entry.Reason = result.Reason
	if result.Reason != StatusReasonNotConnected {
		entry.Error = result.Error
	}
	return entry
}

func (s *Service) statusFromRecord(record TokenRecord) ProviderStatus {
	return ProviderStatus{
		Provider:  record.Provider,
		Connected: record.ValidAt(s.now(), s.config.RefreshBuffer),
		ExpiresAt: expiresAtPointer(record),
		Scopes:    append([]string(nil), record.Scopes...),
	}
}

// Dispatch routes a generic operation to the user's connector.
func (s *Service) Dispatch(ctx context.Context, req DispatchRequest) (result DispatchResult, err error) {
	startedAt := time.Now()
	name := normalizeProvider(req.Provider)
	user := normalizeEmail(req.UserEmail)
	fields := map[string]any{
		"connector":      name,
		"user_email":     user,
		"operation_name": string(req.Operation),
	}
	defer func() {
		s.telemetry.observe(ctx, startedAt, "dispatch", err, fields)
	}()

	if user == "" {
		return DispatchResult{}, NewBadInputError("user email is required")
	}
	reg, ok := s.factory.Registration(name)
	if !ok {
		return DispatchResult{}, NewUnknownProviderError(req.Provider)
	}
	fields["capability"] = string(reg.Capability)
	fields["provider"] = reg.CredentialProvider
	if err := checkOperation(reg, req.Operation); err != nil {
		return DispatchResult{}, err
	}
	result = DispatchResult{
		Provider:   name,
		UserEmail:  user,
		Operation:  req.Operation,
		Capability: reg.Capability,
	}

	if req.Operation == OpDisconnect {
		if err := s.factory.Disconnect(ctx, name, user); err != nil {
			return DispatchResult{}, MapError(err)
		}
		result.Data = map[string]any{"disconnected": true}
		return result, nil
	}

	handle, err := s.factory.GetOrCreate(ctx, name, user)
	if err != nil {
		return DispatchResult{}, err
	}
	data, err := invokeOperation(ctx, handle, req.Operation, Args(req.Args))
	s.recordOperationActivity(ctx, handle, req.Operation, data, err)
	if err != nil {
		return DispatchResult{}, MapError(err)
	}
	handle.markSync(s.now())
	result.Data = data
	return result, nil
}

func (s *Service) recordOperationActivity(ctx context.Context, handle *ConnectorHandle, op Operation, data any, err error) {
	entry := ActivityEntry{
		UserEmail: handle.UserEmail,
		Provider:  handle.Name,
		Details:   map[string]any{"operation": string(op)},
	}
	switch {
	case op == OpTestConnection && err == nil:
		test, _ := data.(ConnectionTest)
		entry.Action = ActivityConnectionTest
		if !test.Connected {
			entry.Action = ActivityConnectionTestFail
		}
		entry.Details["connected"] = test.Connected
	case op == OpTestConnection:
		entry.Action = ActivityConnectionTestFail
		entry.Details["error"] = err.Error()
	case err != nil:
		mapped := MapError(err)
		entry.Action = string(op) + "_failed"
		entry.Details["error"] = mapped.Message
		entry.Details["error_code"] = mapped.TextCode
	default:
		return
	}
	s.logActivity(ctx, entry)
}

// Disconnect drops the cached connector for user. The credential is kept.
func (s *Service) Disconnect(ctx context.Context, name string, userEmail string) (err error) {
	startedAt := time.Now()
	fields := map[string]any{"connector": normalizeProvider(name), "user_email": normalizeEmail(userEmail)}
	defer func() {
		s.telemetry.observe(ctx, startedAt, "disconnect", err, fields)
	}()
	if _, ok := s.factory.Registration(name); !ok {
		return NewUnknownProviderError(name)
	}
	return s.factory.Disconnect(ctx, name, userEmail)
}

// ConnectorStatus builds (or reuses) the connector and runs its connection test.
func (s *Service) ConnectorStatus(ctx context.Context, name string, userEmail string) (ConnectorStatus, error) {
	reg, ok := s.factory.Registration(name)
	if !ok {
		return ConnectorStatus{}, NewUnknownProviderError(name)
	}
	status := ConnectorStatus{
		Provider:   reg.Name,
		UserEmail:  normalizeEmail(userEmail),
		Capability: reg.Capability,
	}
	if status.UserEmail == "" {
		return ConnectorStatus{}, NewBadInputError("user email is required")
	}

	handle, err := s.factory.GetOrCreate(ctx, reg.Name, status.UserEmail)
	if err != nil {
		status.Error = MapError(err).Message
		return status, nil
	}
	status.Capabilities = handle.Connector.Capabilities(ctx)
	status.LastSync = handle.LastSync()

	test, err := handle.Connector.TestConnection(ctx)
	s.recordOperationActivity(ctx, handle, OpTestConnection, test, err)
	if err != nil {
		status.Error = MapError(err).Message
		return status, nil
	}
	status.ConnectionTest = test
	status.Connected = test.Connected
	return status, nil
}

// AvailableProviders lists registered providers with their connectors.
func (s *Service) AvailableProviders(context.Context) []ProviderInfo {
	connectorsByProvider := map[string][]string{}
	for _, reg := range s.factory.Registrations() {
		connectorsByProvider[reg.CredentialProvider] = append(connectorsByProvider[reg.CredentialProvider], reg.Name)
	}
	names := s.registry.Names()
	out := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		cfg, _, err := s.registry.Resolve(name)
		if err != nil {
			continue
		}
		display := cfg.DisplayName
		if display == "" {
			display = cfg.Name
		}
		out = append(out, ProviderInfo{
			Name:          cfg.Name,
			DisplayName:   display,
			Configured:    cfg.Configured(),
			DefaultScopes: append([]string(nil), cfg.DefaultScopes...),
			RedirectURI:   cfg.RedirectURI,
			Connectors:    connectorsByProvider[cfg.Name],
		})
	}
	return out
}

func (s *Service) Activity(ctx context.Context, filter ActivityFilter) ([]ActivityEntry, error) {
	entries, err := s.activity.List(ctx, filter)
	if err != nil {
		return nil, storageError("list_activity", err)
	}
	return entries, nil
}

// Close disconnects live connectors and flushes queued activity.
func (s *Service) Close(ctx context.Context) {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.factory.CloseAll(ctx)
		s.activity.Close()
	})
}

func (s *Service) logActivity(ctx context.Context, entry ActivityEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.activity.Log(ctx, entry); err != nil {
		s.telemetry.logWarn(ctx, "activity log failed", map[string]any{
			"provider": entry.Provider,
			"action":   entry.Action,
			"error":    err.Error(),
		})
	}
}
