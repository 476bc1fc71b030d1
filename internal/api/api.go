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

	"marketvalues/internal/logger"
	"marketvalues/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Client talks JSON to the dashboard backend. Every call is a single
// round-trip; order mutations rely on it never retrying.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    http.Header
	useLogging bool
}

// ClientOption configures the API client
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBaseURL sets the prefix every call path is appended to.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHeader sets a default header for all requests
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithHTTPClient replaces the underlying transport client (tests, proxies).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.useLogging = enabled
	}
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    http.Header{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// CallOption adjusts a single outgoing request after the defaults are applied.
type CallOption func(*http.Request)

// Bearer authenticates one call with the user's access token.
func Bearer(token string) CallOption {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

// Header overrides a default header for one call.
func Header(key, value string) CallOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// HTTPError is returned for any response with status >= 400.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail())
}

// Detail returns the server's message: the "detail" or "message" field of a
// JSON error body when present, the raw body otherwise.
func (e *HTTPError) Detail() string {
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(e.Body, &body); err == nil {
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return string(bytes.TrimSpace(e.Body))
}

type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// ParseJSON decodes the response body into v.
func (r *Response) ParseJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %d response: %w", r.StatusCode, err)
	}
	return nil
}

func (r *Response) String() string {
	return string(r.Body)
}

// Do sends one request with body JSON-encoded when non-nil. Status codes
// >= 400 come back as *HTTPError with the body attached.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...CallOption) (*Response, error) {
	ctx, span := trace.StartSpan(ctx, "http."+strings.ToLower(method))
	defer span.End()

	url := c.baseURL + path
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.url", url))

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	for key, values := range c.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log(ctx, logger.Error, "HTTP request failed", "method", method, "url", url, "error", err)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))

	if httpResp.StatusCode >= 400 {
		span.SetStatus(codes.Error, httpResp.Status)
		c.log(ctx, logger.Warn, "HTTP error response",
			"method", method, "url", url, "status", httpResp.StatusCode, "duration", time.Since(start))
		return nil, &HTTPError{Method: method, URL: url, StatusCode: httpResp.StatusCode, Body: data}
	}

	c.log(ctx, logger.Debug, "HTTP response",
		"method", method, "url", url, "status", httpResp.StatusCode,
		"duration", time.Since(start), "bodySize", len(data))
	return &Response{StatusCode: httpResp.StatusCode, Body: data, Headers: httpResp.Header}, nil
}

// GetJSON fetches path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts ...CallOption) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, opts...)
	if err != nil {
		return err
	}
	return resp.ParseJSON(out)
}

func (c *Client) log(ctx context.Context, fn func(context.Context, string, ...any), msg string, args ...any) {
	if c.useLogging {
		fn(ctx, msg, args...)
	}
}
