package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tendant/ondemand-client/internal/metrics"
)

// DefaultAPIKeyHeader carries the API key credential on every request
const DefaultAPIKeyHeader = "X-API-Key"

// Config holds the settings shared by every request of a Client
type Config struct {
	// BaseURL is the origin all request paths are resolved against.
	// Required. Example: https://api.example.com
	BaseURL string

	// Timeout bounds each HTTP call. Optional. Defaults to 30s
	Timeout time.Duration

	// APIKeyHeader names the credential header. Optional. Defaults to X-API-Key
	APIKeyHeader string

	// Headers are sent with every request; per-call headers override them
	Headers map[string]string
}

// WithDefaults fills in default values for optional fields
func (c *Config) WithDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = DefaultAPIKeyHeader
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the underlying HTTP client. Config.Timeout is
// ignored in that case.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithRateLimit limits outgoing requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithMetrics registers request metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = metrics.NewHTTP(reg) }
}

// WithTracer sets the tracer used for per-request client spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) { c.tracer = tracer }
}
