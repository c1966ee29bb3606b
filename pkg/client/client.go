// Package client is the HTTP helper used to talk to the on-demand processing
// API. Every request is resolved against the Config.BaseURL origin, success
// bodies are decoded as JSON, and failures are normalized into the error kinds
// of package ondemand.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tendant/ondemand-client/internal/metrics"
	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// tracerName is the instrumentation scope name for client spans.
const tracerName = "github.com/tendant/ondemand-client/pkg/client"

const contentTypeJSON = "application/json"

// Client is an HTTP client for the processing API
type Client struct {
	baseURL      string
	apiKeyHeader string
	headers      map[string]string
	httpClient   *http.Client
	logger       *slog.Logger
	limiter      *rate.Limiter
	metrics      *metrics.HTTP
	tracer       trace.Tracer
}

// New creates a client for the origin in cfg
func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.WithDefaults()

	if cfg.BaseURL == "" {
		return nil, errors.New("client: base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported base URL scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKeyHeader: cfg.APIKeyHeader,
		headers:      cfg.Headers,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewWithHTTPClient creates a client with a custom HTTP client
func NewWithHTTPClient(cfg Config, httpClient *http.Client, opts ...Option) (*Client, error) {
	return New(cfg, append([]Option{WithHTTPClient(httpClient)}, opts...)...)
}

// BaseURL returns the origin requests are resolved against
func (c *Client) BaseURL() string { return c.baseURL }

// APIKeyHeaders returns the credential header for apiKey
func (c *Client) APIKeyHeaders(apiKey string) map[string]string {
	if apiKey == "" {
		return nil
	}
	return map[string]string{c.apiKeyHeader: apiKey}
}

// Get issues a GET request and decodes the JSON response into out
func (c *Client) Get(ctx context.Context, path string, headers map[string]string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, contentTypeJSON, headers, out)
}

// PostMultipart encodes fields (and file, if not nil) as multipart form data,
// POSTs them and decodes the JSON response into out.
func (c *Client) PostMultipart(ctx context.Context, path string, fields Fields, file *File, headers map[string]string, out any) error {
	body, contentType, err := encodeMultipart(fields, file)
	if err != nil {
		return fmt.Errorf("encode multipart: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, contentType, headers, out)
}

// Put sends body as JSON and decodes the JSON response into out
func (c *Client) Put(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPut, path, bytes.NewReader(bs), contentTypeJSON, headers, out)
}

// resolve joins path to the base URL. Absolute http(s) URLs are used as-is.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string, out any) error {
	target := c.resolve(path)
	reqID := uuid.New().String()

	ctx, span := c.tracer.Start(ctx, "ondemand.http "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
			attribute.String("ondemand.request_id", reqID),
		),
	)
	defer span.End()

	err := c.send(ctx, span, reqID, method, target, body, contentType, headers, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func (c *Client) send(ctx context.Context, span trace.Span, reqID, method, target string, body io.Reader, contentType string, headers map[string]string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &ondemand.TransportError{Method: method, URL: target, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Defaults first; caller headers override them.
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("X-Request-ID", reqID)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("ondemand.http.request",
		"req_id", reqID,
		"method", method,
		"url", target,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(method, 0, time.Since(start))
		c.logger.Error("ondemand.http.send_error",
			"req_id", reqID,
			"method", method,
			"url", target,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return &ondemand.TransportError{Method: method, URL: target, Err: err}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("ondemand.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	c.metrics.ObserveRequest(method, resp.StatusCode, elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if err != nil {
		return &ondemand.TransportError{Method: method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Info("ondemand.http.response",
		"req_id", reqID,
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return responseError(resp, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ondemand.ParseError{Body: raw, Err: err}
	}
	return nil
}

// responseError builds the error for a non-success status. The server's
// {"message": ...} is used when present; a body that is not JSON yields a
// ParseError wrapping the RequestError.
func responseError(resp *http.Response, raw []byte) error {
	reqErr := &ondemand.RequestError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
	if reqErr.Status == "" {
		reqErr.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return reqErr
	}

	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &ondemand.ParseError{Body: raw, Err: fmt.Errorf("%w (error body: %v)", reqErr, err)}
	}
	reqErr.Message = envelope.Message
	return reqErr
}
