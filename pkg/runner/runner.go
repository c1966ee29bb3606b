// Package runner wires the client, job options, submission ledger, result
// sink and metrics from one configuration.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-content/pkg/simplecontent"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"

	"github.com/tendant/ondemand-client/internal/config"
	"github.com/tendant/ondemand-client/internal/ledger"
	"github.com/tendant/ondemand-client/internal/metrics"
	"github.com/tendant/ondemand-client/pkg/client"
	"github.com/tendant/ondemand-client/pkg/job"
	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// Config holds the configuration for initializing the runner
type Config = config.Config

// LoadConfig reads the configuration from ONDEMAND_* environment variables
func LoadConfig() *Config {
	return config.Load()
}

var (
	archiveOwnerID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	archiveTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// Runner provides a high-level API for submitting jobs
type Runner struct {
	cfg       *Config
	logger    *slog.Logger
	client    *client.Client
	registry  *prometheus.Registry
	lifecycle *metrics.Lifecycle
	db        *sql.DB
	tracker   *ledger.Tracker
	content   simplecontent.Service
	sink      job.ResultSink
	cleanup   func()
}

// New creates and initializes a runner
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		cleanup:  func() {},
	}

	opts := append([]client.Option{
		client.WithLogger(logger),
		client.WithMetrics(r.registry),
	}, cfg.ClientOptions()...)
	c, err := client.New(cfg.ClientConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	r.client = c
	r.lifecycle = metrics.NewLifecycle(r.registry)

	// Optional submission ledger
	if cfg.LedgerDatabaseURL != "" {
		db, err := ledger.Open(cfg.LedgerDatabaseURL)
		if err != nil {
			return nil, err
		}
		tracker, err := ledger.NewTracker(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		r.db = db
		r.tracker = tracker
	}

	// Optional result sink
	switch {
	case cfg.Results.ContentDir != "":
		svc, cleanup, err := presets.NewDevelopment(presets.WithDevStorage(cfg.Results.ContentDir))
		if err != nil {
			r.Shutdown()
			return nil, fmt.Errorf("failed to initialize simple-content service: %w", err)
		}
		r.content = svc
		r.cleanup = cleanup
		r.sink = job.ContentResultSink(svc)
	case cfg.Results.CallbackPath != "":
		r.sink = job.HTTPResultSink(c, cfg.Results.CallbackPath, c.APIKeyHeaders(cfg.API.APIKey))
	}

	return r, nil
}

// Client returns the API client
func (r *Runner) Client() *client.Client { return r.client }

// Content returns the simple-content service results are stored in, or nil
func (r *Runner) Content() simplecontent.Service { return r.content }

// MetricsHandler serves the runner's Prometheus metrics
func (r *Runner) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// NewJob creates a job for file and md using the configured credentials,
// polling bounds, ledger, sink and metrics.
func (r *Runner) NewJob(ctx context.Context, file job.File, md ondemand.Metadata) (*job.Job, error) {
	req := job.Request{
		APIKey:    r.cfg.API.APIKey,
		ProductID: r.cfg.API.ProductID,
		Metadata:  md,
		File:      file,
	}

	// Results stored as derived content need the input archived as their parent
	if r.content != nil && file != nil {
		contentID, err := r.archive(ctx, file, md)
		if err != nil {
			return nil, err
		}
		req.ResultKey = contentID
	}

	opts := []job.Option{
		job.WithConfig(r.cfg.JobConfig()),
		job.WithLogger(r.logger),
		job.WithLifecycleMetrics(r.lifecycle),
	}
	if r.tracker != nil {
		opts = append(opts, job.WithRecorder(r.tracker))
	}
	if r.sink != nil {
		opts = append(opts, job.WithResultSink(r.sink))
	}
	return job.New(r.client, req, opts...), nil
}

// Submit runs one job to completion, polling when poll is true
func (r *Runner) Submit(ctx context.Context, file job.File, md ondemand.Metadata, poll bool) (*ondemand.ContainerResult, *job.Job, error) {
	j, err := r.NewJob(ctx, file, md)
	if err != nil {
		return nil, nil, err
	}
	var result *ondemand.ContainerResult
	if poll {
		result, err = j.SubmitWithPolling(ctx)
	} else {
		result, err = j.SubmitWithoutPolling(ctx)
	}
	return result, j, err
}

func (r *Runner) archive(ctx context.Context, file job.File, md ondemand.Metadata) (string, error) {
	rc, err := file.Open(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open input for archiving: %w", err)
	}
	defer func(rc io.ReadCloser) {
		_ = rc.Close()
	}(rc)

	content, err := r.content.UploadContent(ctx, simplecontent.UploadContentRequest{
		OwnerID:      archiveOwnerID,
		TenantID:     archiveTenantID,
		Name:         md.Name,
		DocumentType: md.MimeType,
		Reader:       rc,
		FileName:     file.Name(),
		Tags:         []string{"ondemand_input"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive input: %w", err)
	}
	r.logger.Debug("runner.input_archived", "content_id", content.ID, "file", file.Name())
	return content.ID.String(), nil
}

// Shutdown releases the ledger connection and content storage
func (r *Runner) Shutdown() {
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("runner.ledger_close_error", "error", err)
		}
	}
	if r.cleanup != nil {
		r.cleanup()
	}
}
