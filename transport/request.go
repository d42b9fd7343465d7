package transport

import (
	"context"
	"net/http"
	"time"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request is one outbound provider call. Provider and Operation only label errors.
type Request struct {
	Provider             string
	Operation            string
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// Success reports a 2xx status.
func (r Response) Success() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

type Adapter interface {
	Kind() string
	Do(ctx context.Context, req Request) (Response, error)
}
