package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectorDeps is everything a constructor may use. Tokens is the only way a
// connector obtains credentials; connectors never store or refresh tokens.
type ConnectorDeps struct {
	Name       string
	Provider   ProviderConfig
	UserEmail  string
	Capability Capability
	Tokens     TokenSource
	Activity   ActivityLog
	Logger     Logger
}

type ConnectorConstructor func(ctx context.Context, deps ConnectorDeps) (Connector, error)

type connectorOptions struct {
	credentialProvider string
	displayName        string
}

type ConnectorOption func(*connectorOptions)

// WithCredentialProvider makes a connector borrow another provider's credential
// (jira and confluence use atlassian).
func WithCredentialProvider(provider string) ConnectorOption {
	return func(o *connectorOptions) {
		o.credentialProvider = normalizeProvider(provider)
	}
}

func WithConnectorDisplayName(name string) ConnectorOption {
	return func(o *connectorOptions) {
		o.displayName = strings.TrimSpace(name)
	}
}

type ConnectorRegistration struct {
	Name               string
	DisplayName        string
	Capability         Capability
	CredentialProvider string
}

type connectorEntry struct {
	registration ConnectorRegistration
	constructor  ConnectorConstructor
}

// ConnectorHandle is a live connector bound to one user.
type ConnectorHandle struct {
	ID                 uuid.UUID
	Name               string
	CredentialProvider string
	UserEmail          string
	Capability         Capability
	Connector          Connector
	CreatedAt          time.Time

	mu       sync.RWMutex
	lastSync time.Time
}

func (h *ConnectorHandle) LastSync() *time.Time {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastSync.IsZero() {
		return nil
	}
	value := h.lastSync
	return &value
}

func (h *ConnectorHandle) markSync(at time.Time) {
	h.mu.Lock()
	h.lastSync = at
	h.mu.Unlock()
}

// TokenSourceProvider hands out per-credential token sources; the coordinator implements it.
type TokenSourceProvider interface {
	TokenSource(provider string, userEmail string) TokenSource
}

type handleKey struct {
	name string
	user string
}

func (k handleKey) String() string {
	return k.name + "::" + k.user
}

type ConnectorFactory struct {
	registry  *ProviderRegistry
	tokens    TokenSourceProvider
	activity  ActivityLog
	logger    Logger
	telemetry telemetry
	now       Clock

	mu            sync.RWMutex
	registrations map[string]connectorEntry
	handles       map[handleKey]*ConnectorHandle
	flight        *keyedFlight[*ConnectorHandle]
}

type ConnectorFactoryConfig struct {
	Registry            *ProviderRegistry
	Tokens              TokenSourceProvider
	Activity            ActivityLog
	Logger              Logger
	Metrics             MetricsRecorder
	ConstructionTimeout time.Duration
	Clock               Clock
}

func NewConnectorFactory(cfg ConnectorFactoryConfig) (*ConnectorFactory, error) {
	if cfg.Registry == nil {
		return nil, NewBadInputError("provider registry is required")
	}
	if cfg.Tokens == nil {
		return nil, NewBadInputError("token source provider is required")
	}
	if cfg.Activity == nil {
		cfg.Activity = NewMemoryActivityLog()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	return &ConnectorFactory{
		registry:      cfg.Registry,
		tokens:        cfg.Tokens,
		activity:      cfg.Activity,
		logger:        cfg.Logger,
		telemetry:     newTelemetry("connectors.factory", cfg.Logger, cfg.Metrics),
		now:           cfg.Clock,
		registrations: map[string]connectorEntry{},
		handles:       map[handleKey]*ConnectorHandle{},
		flight:        newKeyedFlight[*ConnectorHandle](cfg.ConstructionTimeout),
	}, nil
}

func (f *ConnectorFactory) Register(name string, constructor ConnectorConstructor, capability Capability, opts ...ConnectorOption) error {
	name = normalizeProvider(name)
	if name == "" {
		return fmt.Errorf("core: connector name is required")
	}
	if constructor == nil {
		return fmt.Errorf("core: connector constructor is required for %s", name)
	}
	if !capability.Valid() {
		return fmt.Errorf("core: connector %s has unknown capability %q", name, capability)
	}
	options := connectorOptions{credentialProvider: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if options.credentialProvider == "" {
		options.credentialProvider = name
	}
	if options.displayName == "" {
		options.displayName = name
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.registrations[name]; exists {
		return fmt.Errorf("core: connector already registered: %s", name)
	}
	f.registrations[name] = connectorEntry{
		registration: ConnectorRegistration{
			Name:               name,
			DisplayName:        options.displayName,
			Capability:         capability,
			CredentialProvider: options.credentialProvider,
		},
		constructor: constructor,
	}
	return nil
}

func (f *ConnectorFactory) Registration(name string) (ConnectorRegistration, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.registrations[normalizeProvider(name)]
	return entry.registration, ok
}

// GetOrCreate returns the cached handle or builds one. Concurrent callers for
// the same (name, user) share a single construction; failures are not cached.
func (f *ConnectorFactory) GetOrCreate(ctx context.Context, name string, userEmail string) (handle *ConnectorHandle, err error) {
	key := handleKey{name: normalizeProvider(name), user: normalizeEmail(userEmail)}
	if key.user == "" {
		return nil, NewBadInputError("user email is required")
	}

	f.mu.RLock()
	entry, registered := f.registrations[key.name]
	cached := f.handles[key]
	f.mu.RUnlock()
	if !registered {
		return nil, NewUnknownProviderError(name)
	}
	if cached != nil {
		return cached, nil
	}

	handle, _, err = f.flight.Do(ctx, key.String(), func(runCtx context.Context) (*ConnectorHandle, error) {
		f.mu.RLock()
		existing := f.handles[key]
		f.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		return f.construct(runCtx, key, entry)
	})
	return handle, err
}

func (f *ConnectorFactory) construct(ctx context.Context, key handleKey, entry connectorEntry) (handle *ConnectorHandle, err error) {
	startedAt := time.Now()
	reg := entry.registration
	fields := map[string]any{
		"connector":  reg.Name,
		"provider":   reg.CredentialProvider,
		"user_email": key.user,
		"capability": string(reg.Capability),
	}
	defer func() {
		f.telemetry.observe(ctx, startedAt, "construct_connector", err, fields)
		if err != nil {
			f.logActivity(ctx, ActivityEntry{
				UserEmail: key.user,
				Provider:  reg.Name,
				Action:    ActivityConnectorFailed,
				Details:   map[string]any{"error": err.Error(), "error_code": ErrorCode(err)},
			})
		}
	}()

	providerCfg, _, err := f.registry.Resolve(reg.CredentialProvider)
	if err != nil {
		return nil, NewConnectorConstructionFailedError(reg.Name, key.user, err)
	}
	deps := ConnectorDeps{
		Name:       reg.Name,
		Provider:   providerCfg,
		UserEmail:  key.user,
		Capability: reg.Capability,
		Tokens:     f.tokens.TokenSource(reg.CredentialProvider, key.user),
		Activity:   f.activity,
		Logger:     f.logger,
	}

	connector, err := entry.constructor(ctx, deps)
	if err != nil {
		return nil, NewConnectorConstructionFailedError(reg.Name, key.user, err)
	}
	if connector == nil {
		return nil, NewConnectorConstructionFailedError(reg.Name, key.user, fmt.Errorf("constructor returned nil connector"))
	}
	if !implementsCapability(connector, reg.Capability) {
		return nil, NewConnectorConstructionFailedError(reg.Name, key.user,
			fmt.Errorf("connector does not implement %s capability", reg.Capability))
	}
	if err := connector.Connect(ctx); err != nil {
		return nil, NewConnectorConstructionFailedError(reg.Name, key.user, err)
	}

	handle = &ConnectorHandle{
		ID:                 uuid.New(),
		Name:               reg.Name,
		CredentialProvider: reg.CredentialProvider,
		UserEmail:          key.user,
		Capability:         reg.Capability,
		Connector:          connector,
		CreatedAt:          f.now(),
	}
	f.mu.Lock()
	f.handles[key] = handle
	f.mu.Unlock()
	return handle, nil
}

// Disconnect evicts the handle; it is a no-op when nothing is cached.
func (f *ConnectorFactory) Disconnect(ctx context.Context, name string, userEmail string) error {
	key := handleKey{name: normalizeProvider(name), user: normalizeEmail(userEmail)}
	f.mu.Lock()
	handle := f.handles[key]
	delete(f.handles, key)
	f.mu.Unlock()
	if handle == nil {
		return nil
	}
	return f.disconnectHandle(ctx, handle)
}

// EvictCredential drops every handle backed by the given credential.
func (f *ConnectorFactory) EvictCredential(ctx context.Context, provider string, userEmail string) int {
	provider = normalizeProvider(provider)
	user := normalizeEmail(userEmail)

	f.mu.Lock()
	evicted := make([]*ConnectorHandle, 0)
	for key, handle := range f.handles {
		if key.user == user && handle.CredentialProvider == provider {
			evicted = append(evicted, handle)
			delete(f.handles, key)
		}
	}
	f.mu.Unlock()

	for _, handle := range evicted {
		_ = f.disconnectHandle(ctx, handle)
	}
	return len(evicted)
}

func (f *ConnectorFactory) disconnectHandle(ctx context.Context, handle *ConnectorHandle) error {
	err := handle.Connector.Disconnect(ctx)
	details := map[string]any{"handle_id": handle.ID.String()}
	if err != nil {
		details["error"] = err.Error()
	}
	f.logActivity(ctx, ActivityEntry{
		UserEmail: handle.UserEmail,
		Provider:  handle.Name,
		Action:    ActivityConnectorDisconnect,
		Details:   details,
	})
	return err
}

// Cached returns the live handle without constructing one.
func (f *ConnectorFactory) Cached(name string, userEmail string) (*ConnectorHandle, bool) {
	key := handleKey{name: normalizeProvider(name), user: normalizeEmail(userEmail)}
	f.mu.RLock()
	defer f.mu.RUnlock()
	handle, ok := f.handles[key]
	return handle, ok
}

func (f *ConnectorFactory) AvailableProviders() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.registrations)
}

func (f *ConnectorFactory) Registrations() []ConnectorRegistration {
	f.mu.RLock()
	out := make([]ConnectorRegistration, 0, len(f.registrations))
	for _, entry := range f.registrations {
		out = append(out, entry.registration)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CloseAll disconnects every live handle.
func (f *ConnectorFactory) CloseAll(ctx context.Context) {
	f.mu.Lock()
	handles := make([]*ConnectorHandle, 0, len(f.handles))
	for key, handle := range f.handles {
		handles = append(handles, handle)
		delete(f.handles, key)
	}
	f.mu.Unlock()
	for _, handle := range handles {
		_ = handle.Connector.Disconnect(ctx)
	}
}

func (f *ConnectorFactory) logActivity(ctx context.Context, entry ActivityEntry) {
	if f.activity == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = f.now()
	}
	if err := f.activity.Log(ctx, entry); err != nil {
		f.telemetry.logWarn(ctx, "activity log failed", map[string]any{
			"provider": entry.Provider,
			"action":   entry.Action,
			"error":    err.Error(),
		})
	}
}
