// Package api is the HTTP client for the DipTrack REST API.
//
// Every call carries its own timeout so a hung request cannot stall a sync
// pass. Failures come back as *NetworkError (the request never produced a
// response), *ServerError (a non-2xx response, decoded from the API's
// {"error", "details"} body) or *RequestError (the request could not be
// built, or a 2xx body was larger than the client accepts).
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/diptrack/diptrack/internal/resource"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxResponseBytes caps how much of a response body is read.
	DefaultMaxResponseBytes int64 = 8 << 20

	// HealthPath is the liveness endpoint probed by the network monitor.
	HealthPath = "/api/health"

	// IdempotencyHeader carries the action id on replayed writes.
	IdempotencyHeader = "Idempotency-Key"
)

// Client talks to the remote API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithMaxResponseBytes caps the response body size. Non-positive values
// keep the default.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		userAgent:  "diptrack-sync",
		maxBody:    DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs a resolved resource request and returns the response body.
// idempotencyKey is sent as the Idempotency-Key header when non-empty.
func (c *Client) Send(ctx context.Context, req resource.Request, idempotencyKey string) ([]byte, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{IdempotencyHeader: []string{idempotencyKey}}
	}
	return c.do(ctx, req.Method, req.Path, req.Body, headers)
}

// List fetches the collection at endpoint.
// A 2xx body that is not a JSON array is treated as an empty collection.
func (c *Client) List(ctx context.Context, endpoint string) ([]resource.Record, error) {
	body, err := c.do(ctx, http.MethodGet, endpoint, nil, http.Header{"Cache-Control": []string{"no-cache"}})
	if err != nil {
		return nil, err
	}
	records, err := resource.DecodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return records, nil
}

// Create posts payload to endpoint and returns the created record.
func (c *Client) Create(ctx context.Context, endpoint string, payload []byte) (resource.Record, error) {
	body, err := c.do(ctx, http.MethodPost, endpoint, payload, nil)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(body), nil
}

// Health probes the liveness endpoint with HEAD. Any 2xx is healthy.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodHead, HealthPath, nil, http.Header{"Cache-Control": []string{"no-cache"}})
	return err
}

// DecodeRecord parses a single JSON object. Anything else yields nil.
func DecodeRecord(body []byte) resource.Record {
	var rec resource.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil
	}
	return rec
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	tooLarge := int64(len(data)) > c.maxBody

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if tooLarge {
			data = data[:c.maxBody]
		}
		return nil, newServerError(resp.StatusCode, data)
	}
	if tooLarge {
		return nil, &RequestError{
			Method: method,
			Path:   path,
			Err:    fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBody),
		}
	}
	return data, nil
}
