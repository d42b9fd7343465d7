package connectors

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-connectors/core"
)

type ProviderDefinition struct {
	Config   core.ProviderConfig
	Strategy core.OAuthStrategy
}

type ConnectorDefinition struct {
	Name        string
	Constructor core.ConnectorConstructor
	Capability  core.Capability
	Options     []core.ConnectorOption
}

// ProviderPack groups providers with the connectors that sign in through
// them, so downstream modules can ship both as one unit.
type ProviderPack struct {
	Name       string
	Providers  []ProviderDefinition
	Connectors []ConnectorDefinition
}

func (p ProviderPack) Validate() error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("connectors: provider pack name is required")
	}
	if len(p.Providers) == 0 && len(p.Connectors) == 0 {
		return fmt.Errorf("connectors: provider pack %q is empty", name)
	}
	for _, provider := range p.Providers {
		if provider.Strategy == nil {
			return fmt.Errorf("connectors: provider pack %q has provider %q without a strategy", name, provider.Config.Name)
		}
		if err := provider.Config.Validate(); err != nil {
			return fmt.Errorf("connectors: provider pack %q: %w", name, err)
		}
	}
	for _, connector := range p.Connectors {
		if strings.TrimSpace(connector.Name) == "" {
			return fmt.Errorf("connectors: provider pack %q has a connector without a name", name)
		}
		if connector.Constructor == nil {
			return fmt.Errorf("connectors: provider pack %q connector %q has no constructor", name, connector.Name)
		}
		if !connector.Capability.Valid() {
			return fmt.Errorf("connectors: provider pack %q connector %q has unknown capability %q", name, connector.Name, connector.Capability)
		}
	}
	return nil
}

// Options turns the pack into service options.
func (p ProviderPack) Options() []Option {
	out := make([]Option, 0, len(p.Providers)+len(p.Connectors))
	for _, provider := range p.Providers {
		out = append(out, core.WithProvider(provider.Config, provider.Strategy))
	}
	for _, connector := range p.Connectors {
		out = append(out, core.WithConnector(connector.Name, connector.Constructor, connector.Capability, connector.Options...))
	}
	return out
}

func (p ProviderPack) clone() ProviderPack {
	return ProviderPack{
		Name:       strings.TrimSpace(p.Name),
		Providers:  append([]ProviderDefinition(nil), p.Providers...),
		Connectors: append([]ConnectorDefinition(nil), p.Connectors...),
	}
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks collects provider packs and command/query bundles from
// downstream modules before the service is built.
type ExtensionHooks struct {
	mu            sync.RWMutex
	providerPacks map[string]ProviderPack
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		providerPacks: map[string]ProviderPack{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("connectors: extension hooks are nil")
	}
	if err := pack.Validate(); err != nil {
		return err
	}
	normalized := pack.clone()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.providerPacks[normalized.Name]; exists {
		return fmt.Errorf("connectors: provider pack %q already registered", normalized.Name)
	}
	h.providerPacks[normalized.Name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("connectors: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("connectors: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("connectors: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("connectors: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// Options returns the service options of every registered pack, in pack
// name order.
func (h *ExtensionHooks) Options() []Option {
	var out []Option
	for _, pack := range h.ProviderPacks() {
		out = append(out, pack.Options()...)
	}
	return out
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("connectors: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		names = append(names, name)
		factories[name] = factory
	}
	h.mu.RUnlock()
	sort.Strings(names)

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, fmt.Errorf("connectors: build bundle %q: %w", name, err)
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.providerPacks))
	for name := range h.providerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProviderPack, 0, len(names))
	for _, name := range names {
		out = append(out, h.providerPacks[name].clone())
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
