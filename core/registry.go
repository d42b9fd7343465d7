package core

import (
	"fmt"
	"sync"
)

type registeredProvider struct {
	config   ProviderConfig
	strategy OAuthStrategy
}

// ProviderRegistry maps provider names to their OAuth configuration and strategy.
// Entries are fixed once the service starts; Resolve hands out clones.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]registeredProvider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]registeredProvider)}
}

func (r *ProviderRegistry) Register(cfg ProviderConfig, strategy OAuthStrategy) error {
	if r == nil {
		return fmt.Errorf("core: provider registry is nil")
	}
	if strategy == nil {
		return fmt.Errorf("core: oauth strategy is required for provider %s", cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	name := normalizeProvider(cfg.Name)
	cfg = cfg.Clone()
	cfg.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("core: provider already registered: %s", name)
	}
	r.providers[name] = registeredProvider{config: cfg, strategy: strategy}
	return nil
}

// Resolve returns UnknownProvider when name was never registered.
func (r *ProviderRegistry) Resolve(name string) (ProviderConfig, OAuthStrategy, error) {
	key := normalizeProvider(name)
	if r == nil || key == "" {
		return ProviderConfig{}, nil, NewUnknownProviderError(name)
	}
	r.mu.RLock()
	entry, ok := r.providers[key]
	r.mu.RUnlock()
	if !ok {
		return ProviderConfig{}, nil, NewUnknownProviderError(name)
	}
	return entry.config.Clone(), entry.strategy, nil
}

func (r *ProviderRegistry) Has(name string) bool {
	_, _, err := r.Resolve(name)
	return err == nil
}

func (r *ProviderRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.providers)
}

// configure overlays configured credentials on every registered provider.
func (r *ProviderRegistry) configure(cfg Config) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, entry := range r.providers {
		creds, ok := cfg.ProviderCredentialsFor(name)
		if !ok {
			continue
		}
		entry.config = creds.Apply(entry.config)
		r.providers[name] = entry
	}
}
