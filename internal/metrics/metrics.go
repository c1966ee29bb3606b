// Package metrics holds the Prometheus collectors shared by the HTTP client
// and the job lifecycle. A nil collector set is valid and records nothing.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ondemand"

// register adds c to reg. When an identical collector is already registered
// the existing one is returned, so collector sets can be built repeatedly
// against one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// HTTP instruments calls made by the HTTP helper
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTP registers HTTP collectors with reg, reusing collectors a previous
// call registered. A nil registerer creates unregistered collectors.
func NewHTTP(reg prometheus.Registerer) *HTTP {
	return &HTTP{
		requests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests sent to the processing API, by method and status code.",
		}, []string{"method", "code"})),
		duration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests sent to the processing API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"})),
	}
}

// ObserveRequest records one request. code 0 means no response was received.
func (m *HTTP) ObserveRequest(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.requests.WithLabelValues(method, label).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Requests exposes the request counter for tests and custom exporters
func (m *HTTP) Requests() *prometheus.CounterVec { return m.requests }

// Lifecycle instruments job submissions and poll checks
type Lifecycle struct {
	submissions *prometheus.CounterVec
	checks      *prometheus.CounterVec
}

// NewLifecycle registers lifecycle collectors with reg. Jobs sharing a
// registry share the collectors.
func NewLifecycle(reg prometheus.Registerer) *Lifecycle {
	return &Lifecycle{
		submissions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "submissions_total",
			Help:      "Job submissions by mode (direct, polling) and final outcome.",
		}, []string{"mode", "outcome"})),
		checks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "poll_checks_total",
			Help:      "Status checks by result (pending, completed, error).",
		}, []string{"result"})),
	}
}

// ObserveSubmission records the final outcome of one submission
func (m *Lifecycle) ObserveSubmission(mode, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(mode, outcome).Inc()
}

// ObserveCheck records one status check
func (m *Lifecycle) ObserveCheck(result string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(result).Inc()
}

// Submissions exposes the submission counter
func (m *Lifecycle) Submissions() *prometheus.CounterVec { return m.submissions }

// Checks exposes the poll check counter
func (m *Lifecycle) Checks() *prometheus.CounterVec { return m.checks }
