package core

import (
	"fmt"
	"strings"
	"time"
)

type ProviderCredentials struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret" yaml:"client_secret"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri" yaml:"redirect_uri"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes" yaml:"scopes"`
	TenantID     string   `koanf:"tenant_id" mapstructure:"tenant_id" yaml:"tenant_id"`
}

func (c ProviderCredentials) empty() bool {
	return strings.TrimSpace(c.ClientID) == "" &&
		strings.TrimSpace(c.ClientSecret) == "" &&
		strings.TrimSpace(c.RedirectURI) == "" &&
		len(c.Scopes) == 0 &&
		strings.TrimSpace(c.TenantID) == ""
}

// Apply overlays non-empty credentials onto a provider definition.
func (c ProviderCredentials) Apply(cfg ProviderConfig) ProviderConfig {
	out := cfg.Clone()
	if v := strings.TrimSpace(c.ClientID); v != "" {
		out.ClientID = v
	}
	if v := strings.TrimSpace(c.ClientSecret); v != "" {
		out.ClientSecret = v
	}
	if v := strings.TrimSpace(c.RedirectURI); v != "" {
		out.RedirectURI = v
	}
	if scopes := normalizeScopes(c.Scopes); len(scopes) > 0 {
		out.DefaultScopes = scopes
	}
	if v := strings.TrimSpace(c.TenantID); v != "" {
		out.Quirks.TenantID = v
	}
	return out
}

type Config struct {
	ServiceName            string                         `koanf:"service_name" mapstructure:"service_name" yaml:"service_name"`
	RefreshBuffer          time.Duration                  `koanf:"refresh_buffer" mapstructure:"refresh_buffer" yaml:"refresh_buffer"`
	RefreshTimeout         time.Duration                  `koanf:"refresh_timeout" mapstructure:"refresh_timeout" yaml:"refresh_timeout"`
	StateTTL               time.Duration                  `koanf:"state_ttl" mapstructure:"state_ttl" yaml:"state_ttl"`
	ActivityBuffer         int                            `koanf:"activity_buffer" mapstructure:"activity_buffer" yaml:"activity_buffer"`
	ActivityEnqueueTimeout time.Duration                  `koanf:"activity_enqueue_timeout" mapstructure:"activity_enqueue_timeout" yaml:"activity_enqueue_timeout"`
	Providers              map[string]ProviderCredentials `koanf:"providers" mapstructure:"providers" yaml:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:            "connectors",
		RefreshBuffer:          DefaultRefreshBuffer,
		RefreshTimeout:         30 * time.Second,
		StateTTL:               defaultOAuthStateTTL,
		ActivityBuffer:         256,
		ActivityEnqueueTimeout: 50 * time.Millisecond,
		Providers:              map[string]ProviderCredentials{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.RefreshBuffer < 0 {
		return fmt.Errorf("core: refresh_buffer must not be negative")
	}
	if c.RefreshTimeout < 0 {
		return fmt.Errorf("core: refresh_timeout must not be negative")
	}
	if c.StateTTL < 0 {
		return fmt.Errorf("core: state_ttl must not be negative")
	}
	if c.ActivityBuffer < 0 {
		return fmt.Errorf("core: activity_buffer must not be negative")
	}
	for name := range c.Providers {
		if normalizeProvider(name) == "" {
			return fmt.Errorf("core: providers entry with empty name")
		}
	}
	return nil
}

// ProviderCredentialsFor looks up credentials by normalized provider name.
func (c Config) ProviderCredentialsFor(provider string) (ProviderCredentials, bool) {
	provider = normalizeProvider(provider)
	for name, creds := range c.Providers {
		if normalizeProvider(name) == provider {
			return creds, true
		}
	}
	return ProviderCredentials{}, false
}

func (c Config) withFallbacks() Config {
	defaults := DefaultConfig()
	if c.RefreshBuffer == 0 {
		c.RefreshBuffer = defaults.RefreshBuffer
	}
	if c.RefreshTimeout == 0 {
		c.RefreshTimeout = defaults.RefreshTimeout
	}
	if c.StateTTL == 0 {
		c.StateTTL = defaults.StateTTL
	}
	if c.ActivityBuffer == 0 {
		c.ActivityBuffer = defaults.ActivityBuffer
	}
	if c.ActivityEnqueueTimeout == 0 {
		c.ActivityEnqueueTimeout = defaults.ActivityEnqueueTimeout
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderCredentials{}
	}
	return c
}
