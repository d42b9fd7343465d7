package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/ratelimit"
	goerrors "github.com/goliatone/go-errors"
)

// APIClient calls a provider JSON API with the bearer token of one credential.
// A fresh token is read from Tokens on every call so refreshes are picked up.
type APIClient struct {
	Provider  string
	UserEmail string
	BaseURL   string
	Tokens    core.TokenSource
	Adapter   Adapter
	Headers   map[string]string
	Limiter   RateLimiter
}

// RawBody is sent as is instead of being JSON encoded. File uploads use it.
type RawBody struct {
	ContentType string
	Data        []byte
}

func (b RawBody) contentType() string {
	if strings.TrimSpace(b.ContentType) == "" {
		return "application/octet-stream"
	}
	return b.ContentType
}

// RateLimiter gates calls per credential. *ratelimit.AdaptivePolicy
// satisfies it.
type RateLimiter interface {
	BeforeCall(ctx context.Context, key ratelimit.Key) error
	AfterCall(ctx context.Context, key ratelimit.Key, res ratelimit.ResponseMeta) error
}

func NewAPIClient(provider string, baseURL string, tokens core.TokenSource, client HTTPDoer) *APIClient {
	return &APIClient{
		Provider: strings.TrimSpace(provider),
		BaseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Tokens:   tokens,
		Adapter:  NewRESTAdapter(client),
		Headers:  map[string]string{},
	}
}

// WithBaseURL returns a copy rooted at baseURL, used once a tenant specific
// API host (cloud id, instance url) is known.
func (c *APIClient) WithBaseURL(baseURL string) *APIClient {
	if c == nil {
		return nil
	}
	clone := *c
	clone.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	clone.Headers = make(map[string]string, len(c.Headers))
	for key, value := range c.Headers {
		clone.Headers[key] = value
	}
	return &clone
}

func (c *APIClient) Get(ctx context.Context, path string, query map[string]string, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *APIClient) Post(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *APIClient) Put(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *APIClient) Patch(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPatch, path, nil, body, out)
}

func (c *APIClient) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Do sends one JSON request. A non-2xx answer becomes a REMOTE_REJECTED error
// carrying the status and a truncated body; out is left untouched in that case.
func (c *APIClient) Do(ctx context.Context, method string, path string, query map[string]string, body any, out any) error {
	if c == nil || c.Adapter == nil {
		return transportError(
			"transport: api client is not configured",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if c.Tokens == nil {
		return core.NewNoValidCredentialError(c.Provider, c.UserEmail)
	}
	limitKey := ratelimit.Key{Provider: c.Provider, UserEmail: c.UserEmail}
	if c.Limiter != nil {
		if err := c.Limiter.BeforeCall(ctx, limitKey); err != nil {
			var throttled ratelimit.ThrottledError
			if errors.As(err, &throttled) {
				return throttled.ToServiceError()
			}
			return err
		}
	}
	record, err := c.Tokens.Token(ctx)
	if err != nil {
		return err
	}

	headers := map[string]string{
		"Authorization": "Bearer " + record.AccessToken,
		"Accept":        "application/json",
	}
	for key, value := range c.Headers {
		headers[key] = value
	}

	var payload []byte
	if raw, ok := body.(RawBody); ok {
		payload = raw.Data
		headers["Content-Type"] = raw.contentType()
	} else if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return transportWrapError(
				err,
				goerrors.CategoryBadInput,
				"transport: encode request body",
				http.StatusBadRequest,
				map[string]any{"provider": c.Provider},
			)
		}
		headers["Content-Type"] = "application/json"
	}

	operation := strings.ToLower(method) + " " + path
	res, err := c.Adapter.Do(ctx, Request{
		Provider:  c.Provider,
		Operation: operation,
		Method:    method,
		URL:       c.resolve(path),
		Query:     query,
		Headers:   headers,
		Body:      payload,
	})
	if err != nil {
		return err
	}
	if c.Limiter != nil {
		// Throttle bookkeeping never fails the call it observed.
		_ = c.Limiter.AfterCall(ctx, limitKey, ratelimit.ResponseMeta{StatusCode: res.StatusCode, Headers: res.Headers})
	}
	if !res.Success() {
		return core.NewRemoteRejectedError(c.Provider, operation, res.StatusCode, string(res.Body))
	}
	if out == nil || len(bytes.TrimSpace(res.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return transportWrapError(
			err,
			goerrors.CategoryExternal,
			fmt.Sprintf("transport: decode %s response", c.Provider),
			http.StatusBadGateway,
			map[string]any{"provider": c.Provider, "operation": operation},
		)
	}
	return nil
}

func (c *APIClient) resolve(path string) string {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.BaseURL
	}
	return c.BaseURL + "/" + strings.TrimLeft(path, "/")
}

var _ RateLimiter = (*ratelimit.AdaptivePolicy)(nil)
