// Package transport provides the HTTP request/response primitive used to reach
// a remote forecasting model.
//
// HTTPTransport POSTs an already-encoded body to a fixed endpoint and returns
// the raw response body. It does not retry, does not interpret the payload and
// does not translate errors beyond reporting non-2xx statuses as *StatusError.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries a unique identifier for every request so calls can
// be correlated with the model server's logs.
const RequestIDHeader = "X-Request-Id"

// DefaultTimeout bounds a single exchange when no client is supplied.
const DefaultTimeout = 30 * time.Second

// maxErrorBody limits how much of a failed response is kept in StatusError.
const maxErrorBody = 1024

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// HTTPTransport sends prediction requests to a single HTTP endpoint.
type HTTPTransport struct {
	// Endpoint is the full URL of the prediction endpoint (required).
	Endpoint string

	// Headers are added to every request, e.g. an Authorization header.
	Headers map[string]string

	// ContentType defaults to application/json.
	ContentType string

	// Accept defaults to application/json.
	Accept string

	// Client is optional; if nil a client with DefaultTimeout is used.
	Client *http.Client
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(t *HTTPTransport) {
		if t.Headers == nil {
			t.Headers = make(map[string]string)
		}
		t.Headers[key] = value
	}
}

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(t *HTTPTransport) { t.Client = c }
}

// WithContentType overrides the request content type.
func WithContentType(ct string) Option {
	return func(t *HTTPTransport) { t.ContentType = ct }
}

// NewHTTPTransport creates a transport for endpoint.
func NewHTTPTransport(endpoint string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{Endpoint: endpoint}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send POSTs body to the endpoint and returns the response body.
func (t *HTTPTransport) Send(ctx context.Context, body []byte) ([]byte, error) {
	if t.Endpoint == "" {
		return nil, errors.New("http transport: endpoint is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	contentType := t.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	accept := t.Accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}

	cli := t.Client
	if cli == nil {
		cli = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}
