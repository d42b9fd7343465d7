package connectors

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/providers"
	"github.com/goliatone/go-connectors/providers/atlassian"
	"github.com/goliatone/go-connectors/providers/atlassian/confluence"
	"github.com/goliatone/go-connectors/providers/atlassian/jira"
	"github.com/goliatone/go-connectors/providers/google"
	"github.com/goliatone/go-connectors/providers/google/calendar"
	"github.com/goliatone/go-connectors/providers/google/drive"
	"github.com/goliatone/go-connectors/providers/google/gmail"
	"github.com/goliatone/go-connectors/providers/microsoft"
	"github.com/goliatone/go-connectors/providers/microsoft/onedrive"
	"github.com/goliatone/go-connectors/providers/microsoft/outlook"
	"github.com/goliatone/go-connectors/providers/microsoft/teams"
	"github.com/goliatone/go-connectors/providers/notion"
	"github.com/goliatone/go-connectors/providers/salesforce"
	"github.com/goliatone/go-connectors/providers/slack"
	"github.com/goliatone/go-connectors/transport"
)

const BuiltinPackName = "builtin"

type BuiltinOption func(*builtinOptions)

type builtinOptions struct {
	httpClient          *http.Client
	rateLimiter         transport.RateLimiter
	salesforceLoginHost string
	overrides           map[string]func(core.ProviderConfig) core.ProviderConfig
	connectorOptions    map[string][]providers.ConnectorOption
}

// WithBuiltinHTTPClient routes token endpoints and connector API calls
// through client.
func WithBuiltinHTTPClient(client *http.Client) BuiltinOption {
	return func(o *builtinOptions) {
		o.httpClient = client
	}
}

// WithBuiltinRateLimiter shares one throttle policy across every built-in
// connector.
func WithBuiltinRateLimiter(limiter transport.RateLimiter) BuiltinOption {
	return func(o *builtinOptions) {
		o.rateLimiter = limiter
	}
}

// WithSalesforceLoginHost targets a sandbox or My Domain login host.
func WithSalesforceLoginHost(host string) BuiltinOption {
	return func(o *builtinOptions) {
		o.salesforceLoginHost = strings.TrimSpace(host)
	}
}

// WithProviderOverride rewrites a built-in provider definition before it is
// registered. Endpoint rewrites for proxies and test servers go here.
func WithProviderOverride(provider string, fn func(core.ProviderConfig) core.ProviderConfig) BuiltinOption {
	return func(o *builtinOptions) {
		if fn == nil {
			return
		}
		o.overrides[strings.ToLower(strings.TrimSpace(provider))] = fn
	}
}

// WithBuiltinConnectorOptions appends options to one built-in connector.
func WithBuiltinConnectorOptions(connector string, opts ...providers.ConnectorOption) BuiltinOption {
	return func(o *builtinOptions) {
		name := strings.ToLower(strings.TrimSpace(connector))
		o.connectorOptions[name] = append(o.connectorOptions[name], opts...)
	}
}

func resolveBuiltinOptions(opts []BuiltinOption) builtinOptions {
	out := builtinOptions{
		overrides:        map[string]func(core.ProviderConfig) core.ProviderConfig{},
		connectorOptions: map[string][]providers.ConnectorOption{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}

func (o builtinOptions) strategyOptions() []providers.StrategyOption {
	if o.httpClient == nil {
		return nil
	}
	return []providers.StrategyOption{providers.WithHTTPClient(o.httpClient)}
}

func (o builtinOptions) connector(name string) []providers.ConnectorOption {
	var out []providers.ConnectorOption
	if o.httpClient != nil {
		out = append(out, providers.WithConnectorHTTPClient(o.httpClient))
	}
	if o.rateLimiter != nil {
		out = append(out, providers.WithRateLimiter(o.rateLimiter))
	}
	return append(out, o.connectorOptions[name]...)
}

func (o builtinOptions) provider(cfg core.ProviderConfig, strategy core.OAuthStrategy) ProviderDefinition {
	if fn, ok := o.overrides[cfg.Name]; ok {
		cfg = fn(cfg.Clone())
	}
	return ProviderDefinition{Config: cfg, Strategy: strategy}
}

func GoogleProvider(opts ...BuiltinOption) ProviderDefinition {
	o := resolveBuiltinOptions(opts)
	return o.provider(google.ProviderConfig(), google.NewStrategy(o.strategyOptions()...))
}

func MicrosoftProvider(opts ...BuiltinOption) ProviderDefinition {
	o := resolveBuiltinOptions(opts)
	return o.provider(microsoft.ProviderConfig(), microsoft.NewStrategy(o.strategyOptions()...))
}

func SlackProvider(opts ...BuiltinOption) ProviderDefinition {
	o := resolveBuiltinOptions(opts)
	return o.provider(slack.ProviderConfig(), slack.NewStrategy(o.strategyOptions()...))
}

func AtlassianProvider(opts ...BuiltinOption) ProviderDefinition {
	o := resolveBuiltinOptions(opts)
	return o.provider(atlassian.ProviderConfig(), atlassian.NewStrategy(o.strategyOptions()...))
}

func NotionProvider(opts ...BuiltinOption) ProviderDefinition {
	o := resolveBuiltinOptions(opts)
	return o.provider(notion.ProviderConfig(), notion.NewStrategy(o.strategyOptions()...))
}

func SalesforceProvider(opts ...BuiltinOption) ProviderDefinition {
	o := resolveBuiltinOptions(opts)
	cfg := salesforce.ProviderConfig()
	if o.salesforceLoginHost != "" {
		cfg = salesforce.ProviderConfigForHost(o.salesforceLoginHost)
	}
	return o.provider(cfg, salesforce.NewStrategy(o.strategyOptions()...))
}

// BuiltinConnectors lists the shipped connectors. Connectors of the same
// vendor share its credential: gmail, drive and calendar sign in through
// google; outlook, onedrive and teams through microsoft; jira and confluence
// through atlassian.
func BuiltinConnectors(opts ...BuiltinOption) []ConnectorDefinition {
	o := resolveBuiltinOptions(opts)
	return []ConnectorDefinition{
		{
			Name:        gmail.ConnectorName,
			Constructor: gmail.NewConstructor(o.connector(gmail.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(google.ProviderName), core.WithConnectorDisplayName("Gmail")},
		},
		{
			Name:        outlook.ConnectorName,
			Constructor: outlook.NewConstructor(o.connector(outlook.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(microsoft.ProviderName), core.WithConnectorDisplayName("Outlook")},
		},
		{
			Name:        drive.ConnectorName,
			Constructor: drive.NewConstructor(o.connector(drive.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(google.ProviderName), core.WithConnectorDisplayName("Google Drive")},
		},
		{
			Name:        calendar.ConnectorName,
			Constructor: calendar.NewConstructor(o.connector(calendar.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(google.ProviderName), core.WithConnectorDisplayName("Google Calendar")},
		},
		{
			Name:        onedrive.ConnectorName,
			Constructor: onedrive.NewConstructor(o.connector(onedrive.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(microsoft.ProviderName), core.WithConnectorDisplayName("OneDrive")},
		},
		{
			Name:        teams.ConnectorName,
			Constructor: teams.NewConstructor(o.connector(teams.ConnectorName)...),
			Capability:  core.CapabilityCommunication,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(microsoft.ProviderName), core.WithConnectorDisplayName("Microsoft Teams")},
		},
		{
			Name:        slack.ConnectorName,
			Constructor: slack.NewConstructor(o.connector(slack.ConnectorName)...),
			Capability:  core.CapabilityCommunication,
			Options:     []core.ConnectorOption{core.WithConnectorDisplayName("Slack")},
		},
		{
			Name:        jira.ConnectorName,
			Constructor: jira.NewConstructor(o.connector(jira.ConnectorName)...),
			Capability:  core.CapabilityProject,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(atlassian.ProviderName), core.WithConnectorDisplayName("Jira")},
		},
		{
			Name:        confluence.ConnectorName,
			Constructor: confluence.NewConstructor(o.connector(confluence.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithCredentialProvider(atlassian.ProviderName), core.WithConnectorDisplayName("Confluence")},
		},
		{
			Name:        notion.ConnectorName,
			Constructor: notion.NewConstructor(o.connector(notion.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithConnectorDisplayName("Notion")},
		},
		{
			Name:        salesforce.ConnectorName,
			Constructor: salesforce.NewConstructor(o.connector(salesforce.ConnectorName)...),
			Capability:  core.CapabilityData,
			Options:     []core.ConnectorOption{core.WithConnectorDisplayName("Salesforce")},
		},
	}
}

func BuiltinPack(opts ...BuiltinOption) ProviderPack {
	return ProviderPack{
		Name: BuiltinPackName,
		Providers: []ProviderDefinition{
			GoogleProvider(opts...),
			MicrosoftProvider(opts...),
			SlackProvider(opts...),
			AtlassianProvider(opts...),
			NotionProvider(opts...),
			SalesforceProvider(opts...),
		},
		Connectors: BuiltinConnectors(opts...),
	}
}

// BuiltinProviders returns service options that register every built-in
// provider and connector.
func BuiltinProviders(opts ...BuiltinOption) []Option {
	return BuiltinPack(opts...).Options()
}
