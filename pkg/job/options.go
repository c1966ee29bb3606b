package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/ondemand-client/internal/metrics"
	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// Config holds endpoint paths and polling bounds
type Config struct {
	// SubmitPath receives synchronous submissions. Defaults to /submit-job
	SubmitPath string

	// CreatePath receives submissions that are polled. Defaults to /create-job
	CreatePath string

	// StatusPath is queried for job status; {jobId} is replaced with the
	// escaped job identifier. Defaults to /{jobId}
	StatusPath string

	// Interval is the wait between the end of one check and the start of
	// the next. Defaults to 5s
	Interval time.Duration

	// MaxChecks bounds the number of status checks. 0 means unlimited
	MaxChecks int

	// MaxWait bounds the total polling duration. Defaults to 1h; negative
	// disables the bound
	MaxWait time.Duration
}

// WithDefaults fills in default values for optional fields
func (c *Config) WithDefaults() {
	if c.SubmitPath == "" {
		c.SubmitPath = "/submit-job"
	}
	if c.CreatePath == "" {
		c.CreatePath = "/create-job"
	}
	if c.StatusPath == "" {
		c.StatusPath = "/{jobId}"
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxWait == 0 {
		c.MaxWait = time.Hour
	}
}

// Recorder is notified of every accepted submission. The fingerprint is
// computed from the bytes sent during the upload.
type Recorder interface {
	Record(ctx context.Context, s ondemand.Submission) (int, error)
}

// Option configures a Job
type Option func(*Job)

// WithConfig sets paths and polling bounds
func WithConfig(cfg Config) Option {
	return func(j *Job) {
		cfg.WithDefaults()
		j.cfg = cfg
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

// WithMetrics registers lifecycle collectors with reg. Jobs created with the
// same registry share collectors.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(j *Job) { j.metrics = metrics.NewLifecycle(reg) }
}

// WithLifecycleMetrics shares an existing collector set between jobs
func WithLifecycleMetrics(m *metrics.Lifecycle) Option {
	return func(j *Job) { j.metrics = m }
}

// WithRecorder records accepted submissions, e.g. in the submission ledger
func WithRecorder(r Recorder) Option {
	return func(j *Job) { j.recorder = r }
}

// WithResultSink stores every completed result
func WithResultSink(sink ResultSink) Option {
	return func(j *Job) { j.sink = sink }
}
