package providers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
)

const defaultAPITimeout = 30 * time.Second

// ConnectorSettings holds the transport choices shared by connector constructors.
type ConnectorSettings struct {
	HTTPClient  *http.Client
	BaseURL     string
	Headers     map[string]string
	RateLimiter transport.RateLimiter
}

type ConnectorOption func(*ConnectorSettings)

func WithConnectorHTTPClient(client *http.Client) ConnectorOption {
	return func(s *ConnectorSettings) {
		if client != nil {
			s.HTTPClient = client
		}
	}
}

// WithAPIBaseURL points a connector at another API host, mostly for tests.
func WithAPIBaseURL(baseURL string) ConnectorOption {
	return func(s *ConnectorSettings) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			s.BaseURL = trimmed
		}
	}
}

func WithAPIHeader(key string, value string) ConnectorOption {
	return func(s *ConnectorSettings) {
		if strings.TrimSpace(key) != "" {
			s.Headers[key] = value
		}
	}
}

// WithRateLimiter makes the connector honor provider throttling per credential.
func WithRateLimiter(limiter transport.RateLimiter) ConnectorOption {
	return func(s *ConnectorSettings) {
		s.RateLimiter = limiter
	}
}

func NewConnectorSettings(defaultBaseURL string, opts ...ConnectorOption) ConnectorSettings {
	settings := ConnectorSettings{
		BaseURL: defaultBaseURL,
		Headers: map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if settings.HTTPClient == nil {
		settings.HTTPClient = &http.Client{Timeout: defaultAPITimeout}
	}
	return settings
}

// APIClient binds the settings to the credential handed to a connector.
func (s ConnectorSettings) APIClient(deps core.ConnectorDeps) *transport.APIClient {
	client := transport.NewAPIClient(deps.Provider.Name, s.BaseURL, deps.Tokens, s.HTTPClient)
	client.UserEmail = deps.UserEmail
	client.Limiter = s.RateLimiter
	for key, value := range s.Headers {
		client.Headers[key] = value
	}
	return client
}

// BaseConnector carries the lifecycle every HTTP connector shares. Embedding
// types add TestConnection and the capability operations.
type BaseConnector struct {
	API  *transport.APIClient
	Deps core.ConnectorDeps
	Info core.CapabilityInfo

	mu        sync.RWMutex
	connected bool
}

func NewBaseConnector(api *transport.APIClient, deps core.ConnectorDeps, scopes []string) BaseConnector {
	return BaseConnector{
		API:  api,
		Deps: deps,
		Info: core.CapabilityInfo{
			Capability: deps.Capability,
			Operations: core.OperationsFor(deps.Capability),
			Scopes:     append([]string(nil), scopes...),
		},
	}
}

// Connect checks that a usable credential exists.
func (b *BaseConnector) Connect(ctx context.Context) error {
	if b.Deps.Tokens == nil {
		return core.NewNoValidCredentialError(b.Deps.Provider.Name, b.Deps.UserEmail)
	}
	if _, err := b.Deps.Tokens.Token(ctx); err != nil {
		return err
	}
	b.setConnected(true)
	return nil
}

func (b *BaseConnector) Disconnect(context.Context) error {
	b.setConnected(false)
	return nil
}

func (b *BaseConnector) Capabilities(context.Context) core.CapabilityInfo {
	info := b.Info
	info.Operations = append([]core.Operation(nil), b.Info.Operations...)
	info.Scopes = append([]string(nil), b.Info.Scopes...)
	return info
}

func (b *BaseConnector) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *BaseConnector) setConnected(value bool) {
	b.mu.Lock()
	b.connected = value
	b.mu.Unlock()
}

// ProbeConnection runs probe and folds the outcome into a ConnectionTest.
// Remote rejections are reported as a failed test rather than an error.
func (b *BaseConnector) ProbeConnection(ctx context.Context, probe func(ctx context.Context) (map[string]any, error)) (core.ConnectionTest, error) {
	detail, err := probe(ctx)
	if err != nil {
		if core.IsErrorCode(err, core.ErrorRemoteRejected) {
			return core.ConnectionTest{
				Connected: false,
				Detail:    map[string]any{"error": core.MapError(err).Message},
			}, nil
		}
		return core.ConnectionTest{}, err
	}
	if detail == nil {
		detail = map[string]any{}
	}
	return core.ConnectionTest{Connected: true, Detail: detail}, nil
}

// LimitOr returns the filter limit, or fallback when unset.
func LimitOr(filter core.ListFilter, fallback int) int {
	if filter.Limit > 0 {
		return filter.Limit
	}
	return fallback
}

// FilterMessages keeps messages whose text contains query, case-insensitively.
// Communication connectors without native search scan channel history with it.
func FilterMessages(messages []core.Payload, query string) []core.Payload {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := make([]core.Payload, 0, len(messages))
	for _, message := range messages {
		if needle == "" || strings.Contains(strings.ToLower(ReadString(message, "text")), needle) {
			out = append(out, message)
		}
	}
	return out
}
