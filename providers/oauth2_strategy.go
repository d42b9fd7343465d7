package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/transport"
	"golang.org/x/oauth2"
)

const defaultTokenRequestTimeout = 30 * time.Second

// OAuth2Strategy implements core.OAuthStrategy for authorization code
// providers on top of golang.org/x/oauth2. Provider quirks come from the
// ProviderConfig; response shape differences are handled through options.
type OAuth2Strategy struct {
	client            *http.Client
	adapter           transport.Adapter
	tokenMetadata     map[string]string
	userInfoHeaders   map[string]string
	userInfoTransform func(map[string]any) map[string]any
}

type StrategyOption func(*OAuth2Strategy)

func WithHTTPClient(client *http.Client) StrategyOption {
	return func(s *OAuth2Strategy) {
		if client != nil {
			s.client = client
		}
	}
}

// WithTokenMetadata copies token response fields into TokenGrant.Metadata.
// Keys are metadata names, values are dotted paths into the raw response
// ("team.id").
func WithTokenMetadata(fields map[string]string) StrategyOption {
	return func(s *OAuth2Strategy) {
		for key, path := range fields {
			key = strings.TrimSpace(key)
			path = strings.TrimSpace(path)
			if key == "" || path == "" {
				continue
			}
			s.tokenMetadata[key] = path
		}
	}
}

func WithUserInfoHeaders(headers map[string]string) StrategyOption {
	return func(s *OAuth2Strategy) {
		for key, value := range headers {
			s.userInfoHeaders[key] = value
		}
	}
}

// WithUserInfoTransform reshapes the decoded userinfo payload before it is returned.
func WithUserInfoTransform(fn func(map[string]any) map[string]any) StrategyOption {
	return func(s *OAuth2Strategy) {
		s.userInfoTransform = fn
	}
}

func NewOAuth2Strategy(opts ...StrategyOption) *OAuth2Strategy {
	strategy := &OAuth2Strategy{
		client:          &http.Client{Timeout: defaultTokenRequestTimeout},
		tokenMetadata:   map[string]string{},
		userInfoHeaders: map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(strategy)
		}
	}
	strategy.adapter = transport.NewRESTAdapter(strategy.client)
	return strategy
}

// HTTPClient is shared with API clients built for the same provider.
func (s *OAuth2Strategy) HTTPClient() *http.Client {
	return s.client
}

func (s *OAuth2Strategy) AuthorizeURL(cfg core.ProviderConfig, state string, scopes []string) (string, error) {
	state = strings.TrimSpace(state)
	if state == "" {
		return "", fmt.Errorf("providers: state is required for %s", cfg.Name)
	}
	conf := s.config(cfg)
	params := []oauth2.AuthCodeOption{}
	if len(scopes) > 0 {
		params = append(params, oauth2.SetAuthURLParam("scope", strings.Join(scopes, cfg.Separator())))
	}
	keys := make([]string, 0, len(cfg.Quirks.AuthorizeParams))
	for key := range cfg.Quirks.AuthorizeParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		params = append(params, oauth2.SetAuthURLParam(key, cfg.Quirks.AuthorizeParams[key]))
	}
	return conf.AuthCodeURL(state, params...), nil
}

func (s *OAuth2Strategy) Exchange(ctx context.Context, cfg core.ProviderConfig, code string) (core.TokenGrant, error) {
	token, err := s.config(cfg).Exchange(s.clientContext(ctx), code)
	if err != nil {
		return core.TokenGrant{}, mapTokenError(err)
	}
	return s.grantFromToken(token), nil
}

func (s *OAuth2Strategy) Refresh(ctx context.Context, cfg core.ProviderConfig, refreshToken string) (core.TokenGrant, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenGrant{}, fmt.Errorf("providers: refresh token is required for %s", cfg.Name)
	}
	source := s.config(cfg).TokenSource(s.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return core.TokenGrant{}, mapTokenError(err)
	}
	return s.grantFromToken(token), nil
}

// Revoke calls the provider revoke endpoint. Providers without one only have
// their local credential removed.
func (s *OAuth2Strategy) Revoke(ctx context.Context, cfg core.ProviderConfig, record core.TokenRecord) error {
	revokeURL := strings.TrimSpace(cfg.RevokeURL)
	if revokeURL == "" {
		return nil
	}

	req := transport.Request{
		Provider:  cfg.Name,
		Operation: "revoke",
		Method:    http.MethodPost,
		URL:       revokeURL,
		Headers:   map[string]string{"Accept": "application/json"},
	}
	if cfg.Quirks.RevokeWithBearer {
		req.Headers["Authorization"] = "Bearer " + record.AccessToken
	} else {
		token := record.RefreshToken
		if strings.TrimSpace(token) == "" {
			token = record.AccessToken
		}
		req.Headers["Content-Type"] = "application/x-www-form-urlencoded"
		req.Body = []byte(url.Values{"token": {token}}.Encode())
	}

	res, err := s.adapter.Do(ctx, req)
	if err != nil {
		return err
	}
	if !res.Success() {
		return &core.RemoteStatusError{StatusCode: res.StatusCode, Body: string(res.Body)}
	}
	return nil
}

func (s *OAuth2Strategy) UserInfo(ctx context.Context, cfg core.ProviderConfig, accessToken string) (map[string]any, error) {
	infoURL := strings.TrimSpace(cfg.UserInfoURL)
	if infoURL == "" {
		return map[string]any{}, nil
	}
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
		"Accept":        "application/json",
	}
	for key, value := range s.userInfoHeaders {
		headers[key] = value
	}
	res, err := s.adapter.Do(ctx, transport.Request{
		Provider:  cfg.Name,
		Operation: "userinfo",
		Method:    http.MethodGet,
		URL:       infoURL,
		Headers:   headers,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		return nil, &core.RemoteStatusError{StatusCode: res.StatusCode, Body: string(res.Body)}
	}
	info := map[string]any{}
	if err := json.Unmarshal(res.Body, &info); err != nil {
		return nil, fmt.Errorf("providers: decode %s userinfo: %w", cfg.Name, err)
	}
	if s.userInfoTransform != nil {
		info = s.userInfoTransform(info)
	}
	return info, nil
}

func (s *OAuth2Strategy) config(cfg core.ProviderConfig) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if cfg.Quirks.ClientAuthInHeader {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.ResolvedAuthorizeURL(),
			TokenURL:  cfg.ResolvedTokenURL(),
			AuthStyle: style,
		},
	}
}

func (s *OAuth2Strategy) clientContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

func (s *OAuth2Strategy) grantFromToken(token *oauth2.Token) core.TokenGrant {
	grant := core.TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		Scopes:       core.SplitScopes(readAnyString(token.Extra("scope"))),
	}
	if len(s.tokenMetadata) == 0 {
		return grant
	}
	grant.Metadata = map[string]any{}
	for key, path := range s.tokenMetadata {
		if value := lookupPath(token, path); value != nil {
			grant.Metadata[key] = value
		}
	}
	return grant
}

// lookupPath walks a dotted path through the raw token response.
func lookupPath(token *oauth2.Token, path string) any {
	parts := strings.Split(path, ".")
	value := token.Extra(parts[0])
	for _, part := range parts[1:] {
		nested, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value = nested[part]
	}
	if text, ok := value.(string); ok && strings.TrimSpace(text) == "" {
		return nil
	}
	return value
}

// mapTokenError turns token endpoint rejections into core.RemoteStatusError
// and leaves transport failures untouched.
func mapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return err
	}
	status := http.StatusBadRequest
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	body := string(retrieveErr.Body)
	if body == "" {
		body = describeRetrieveError(retrieveErr)
	}
	return &core.RemoteStatusError{StatusCode: status, Body: body, Err: err}
}

func describeRetrieveError(err *oauth2.RetrieveError) string {
	if strings.TrimSpace(err.ErrorDescription) != "" {
		return strings.TrimSpace(err.ErrorDescription)
	}
	if strings.TrimSpace(err.ErrorCode) != "" {
		return strings.TrimSpace(err.ErrorCode)
	}
	return "unknown error"
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// ReadString reads a string field from a decoded JSON payload.
func ReadString(payload map[string]any, key string) string {
	if len(payload) == 0 {
		return ""
	}
	return readAnyString(payload[key])
}

// ReadInt reads a numeric field from a decoded JSON payload.
func ReadInt(payload map[string]any, key string) int64 {
	if len(payload) == 0 {
		return 0
	}
	switch typed := payload[key].(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

// ReadMap reads a nested object from a decoded JSON payload.
func ReadMap(payload map[string]any, key string) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	nested, _ := payload[key].(map[string]any)
	return nested
}

// ReadList reads an array of objects from a decoded JSON payload, skipping
// entries that are not objects.
func ReadList(payload map[string]any, key string) []core.Payload {
	raw, _ := payload[key].([]any)
	items := make([]core.Payload, 0, len(raw))
	for _, entry := range raw {
		if item, ok := entry.(map[string]any); ok {
			items = append(items, item)
		}
	}
	return items
}

var _ core.OAuthStrategy = (*OAuth2Strategy)(nil)
