// Package job runs the lifecycle of one on-demand processing job: submitting
// a file with its metadata, polling the service until the job finishes and
// caching the result.
//
// A Job is submitted either synchronously with SubmitWithoutPolling, or with
// SubmitWithPolling (equivalently Start followed by Poll.Wait). Progress is
// observed through immutable Snapshot values.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tendant/ondemand-client/internal/metrics"
	"github.com/tendant/ondemand-client/pkg/client"
	"github.com/tendant/ondemand-client/pkg/ondemand"
)

const (
	modeDirect  = "direct"
	modePolling = "polling"

	statusPending = "pending"
)

// Requester performs the HTTP calls of a Job; *client.Client satisfies it
type Requester interface {
	Get(ctx context.Context, path string, headers map[string]string, out any) error
	PostMultipart(ctx context.Context, path string, fields client.Fields, file *client.File, headers map[string]string, out any) error
	APIKeyHeaders(apiKey string) map[string]string
}

// Request is what a Job submits
type Request struct {
	APIKey    string
	ProductID string
	Metadata  ondemand.Metadata
	File      File

	// ResultKey names the stored result in the result sink.
	// Defaults to the job identifier.
	ResultKey string
}

// Job submits a Request and tracks its progress. A Job may be submitted
// again once the previous submission has finished.
type Job struct {
	requester Requester
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Lifecycle
	recorder  Recorder
	sink      ResultSink

	mu       sync.Mutex
	req      Request
	snap     Snapshot
	inFlight bool
}

// New creates a job for req
func New(requester Requester, req Request, opts ...Option) *Job {
	j := &Job{
		requester: requester,
		logger:    slog.Default(),
		req:       req,
		snap:      Snapshot{State: StateCreated, UpdatedAt: time.Now()},
	}
	j.cfg.WithDefaults()
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Snapshot returns the current progress
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap
}

// Request returns the request submitted by the job
func (j *Job) Request() Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.req
}

// SetRequest replaces the request used by later submissions
func (j *Job) SetRequest(req Request) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.inFlight {
		return ondemand.ErrBusy
	}
	j.req = req
	return nil
}

// SubmitWithoutPolling submits the job to the synchronous endpoint and
// returns the result from the response.
func (j *Job) SubmitWithoutPolling(ctx context.Context) (*ondemand.ContainerResult, error) {
	req, err := j.begin()
	if err != nil {
		return nil, err
	}
	defer j.release()

	raw, fp, err := j.post(ctx, j.cfg.SubmitPath, req)
	if err != nil {
		return nil, j.fail(modeDirect, err)
	}

	result, err := ondemand.DecodeContainerResult(raw)
	if err != nil {
		return nil, j.fail(modeDirect, err)
	}

	jobID := ""
	if result.Data != nil {
		jobID = result.Data.ID
	}
	j.record(ctx, req, fp, jobID, modeDirect)

	location := j.cfg.SubmitPath
	if jobID != "" {
		location = j.statusPath(jobID)
	}
	j.complete(ctx, modeDirect, req, jobID, location, result)
	return result, nil
}

// SubmitWithPolling submits the job and polls until it completes, fails,
// exceeds its bounds or ctx is done.
func (j *Job) SubmitWithPolling(ctx context.Context) (*ondemand.ContainerResult, error) {
	p, err := j.Start(ctx)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Start submits the job to the create endpoint and starts polling in the
// background. The poll stops when ctx is done or the returned handle is
// cancelled.
func (j *Job) Start(ctx context.Context) (*Poll, error) {
	req, err := j.begin()
	if err != nil {
		return nil, err
	}

	raw, fp, err := j.post(ctx, j.cfg.CreatePath, req)
	if err != nil {
		j.release()
		return nil, j.fail(modePolling, err)
	}

	jobID, err := extractJobID(raw)
	if err != nil {
		j.release()
		return nil, j.fail(modePolling, err)
	}
	j.record(ctx, req, fp, jobID, modePolling)

	j.update(func(s *Snapshot) {
		s.State = StatePolling
		s.JobID = jobID
		s.Status = statusPending
	})
	j.logger.Info("job.polling", "job_id", jobID, "interval", j.cfg.Interval)

	p := newPoll(ctx, j, req, jobID)
	go p.run()
	return p, nil
}

// CheckStatus queries the status of jobID once. A completed response
// completes the job and caches its result. Checking an identifier other than
// the tracked one discards the previous status and result. It returns
// ErrBusy while a submission or poll is in flight.
func (j *Job) CheckStatus(ctx context.Context, jobID string) (*ondemand.StatusResponse, error) {
	j.mu.Lock()
	if j.inFlight {
		j.mu.Unlock()
		return nil, ondemand.ErrBusy
	}
	j.inFlight = true
	req := j.req
	j.mu.Unlock()
	defer j.release()

	j.update(func(s *Snapshot) {
		if s.JobID == jobID {
			return
		}
		*s = Snapshot{State: StatePolling, JobID: jobID}
	})

	resp, err := j.check(ctx, req, jobID)
	if err != nil {
		return nil, err
	}
	if resp.Completed {
		j.complete(ctx, modePolling, req, jobID, j.resultLocation(jobID, resp), &resp.ContainerResult)
	}
	return resp, nil
}

// FetchResult returns the cached result. It never calls the server: unless
// the last reported status is "completed" and a result location is known it
// returns a *ondemand.NotReadyError.
func (j *Job) FetchResult() (*ondemand.ContainerResult, error) {
	snap := j.Snapshot()
	if snap.Status != ondemand.StatusCompleted || snap.ResultURI == "" || snap.Result == nil {
		return nil, &ondemand.NotReadyError{Status: snap.Status, HasResult: snap.ResultURI != ""}
	}
	return snap.Result, nil
}

// begin validates the request and marks a submission in flight
func (j *Job) begin() (Request, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.inFlight {
		return Request{}, ondemand.ErrBusy
	}
	req := j.req
	switch {
	case strings.TrimSpace(req.APIKey) == "":
		return Request{}, fmt.Errorf("%w: api key is required", ondemand.ErrInvalidJob)
	case strings.TrimSpace(req.ProductID) == "":
		return Request{}, fmt.Errorf("%w: product ID is required", ondemand.ErrInvalidJob)
	}

	j.inFlight = true
	j.snap = Snapshot{State: StateSubmitting, UpdatedAt: time.Now()}
	return req, nil
}

func (j *Job) release() {
	j.mu.Lock()
	j.inFlight = false
	j.mu.Unlock()
}

func (j *Job) update(fn func(*Snapshot)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(&j.snap)
	j.snap.UpdatedAt = time.Now()
}

// post uploads the request and returns the raw response body together with
// the fingerprint of the uploaded file
func (j *Job) post(ctx context.Context, path string, req Request) (json.RawMessage, string, error) {
	fields, file, up, err := encodeSubmission(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer up.Close()

	var raw json.RawMessage
	if err := j.requester.PostMultipart(ctx, path, fields, file, j.requester.APIKeyHeaders(req.APIKey), &raw); err != nil {
		return nil, "", err
	}
	return raw, up.Fingerprint(), nil
}

// check performs one status query and records it in the snapshot
func (j *Job) check(ctx context.Context, req Request, jobID string) (*ondemand.StatusResponse, error) {
	var resp ondemand.StatusResponse
	err := j.requester.Get(ctx, j.statusPath(jobID), j.requester.APIKeyHeaders(req.APIKey), &resp)
	// Pending responses may carry an empty envelope; only completion needs data
	if err == nil && resp.Completed {
		err = resp.Validate()
	}

	if err != nil {
		j.metrics.ObserveCheck("error")
		j.update(func(s *Snapshot) { s.Checks++ })
		return nil, err
	}

	status := statusPending
	result := "pending"
	if resp.Completed {
		status = ondemand.StatusCompleted
		result = "completed"
	} else if resp.Data != nil && resp.Data.Status != "" {
		status = strings.ToLower(resp.Data.Status)
	}
	j.metrics.ObserveCheck(result)
	j.update(func(s *Snapshot) {
		s.Checks++
		s.Status = status
	})

	j.logger.Debug("job.check", "job_id", jobID, "status", status)
	return &resp, nil
}

// complete caches result, stores it in the sink and marks the job completed
func (j *Job) complete(ctx context.Context, mode string, req Request, jobID, location string, result *ondemand.ContainerResult) {
	if j.sink != nil {
		key := req.ResultKey
		if key == "" {
			key = jobID
		}
		if stored, err := j.sink.PutResult(ctx, key, result); err != nil {
			j.logger.Error("job.result_sink_failed", "job_id", jobID, "key", key, "error", err)
		} else {
			j.logger.Info("job.result_stored", "job_id", jobID, "location", stored)
		}
	}

	j.update(func(s *Snapshot) {
		s.State = StateCompleted
		s.JobID = jobID
		s.Status = ondemand.StatusCompleted
		s.ResultURI = location
		s.Result = result
		s.Err = nil
	})

	outcome := "completed"
	if result.IsError {
		outcome = "error_result"
	}
	j.metrics.ObserveSubmission(mode, outcome)
	j.logger.Info("job.completed", "job_id", jobID, "mode", mode, "is_error", result.IsError)
}

// fail marks the job failed and returns err
func (j *Job) fail(mode string, err error) error {
	j.update(func(s *Snapshot) {
		s.State = StateFailed
		s.Err = err
	})

	outcome := "failed"
	switch {
	case errors.Is(err, ondemand.ErrCancelled):
		outcome = "cancelled"
	case errors.Is(err, ondemand.ErrPollLimit):
		outcome = "poll_limit"
	}
	j.metrics.ObserveSubmission(mode, outcome)
	j.logger.Warn("job.failed", "mode", mode, "error", err)
	return err
}

// record notifies the recorder; recorder failures never fail the job
func (j *Job) record(ctx context.Context, req Request, fp, jobID, mode string) {
	if j.recorder == nil || req.File == nil {
		return
	}

	if _, err := j.recorder.Record(ctx, ondemand.Submission{
		ProductID:   req.ProductID,
		Fingerprint: fp,
		FileName:    req.File.Name(),
		JobID:       jobID,
		Mode:        mode,
	}); err != nil {
		j.logger.Warn("job.record_failed", "job_id", jobID, "error", err)
	}
}

func (j *Job) statusPath(jobID string) string {
	return strings.ReplaceAll(j.cfg.StatusPath, "{jobId}", url.PathEscape(jobID))
}

// resultLocation prefers the server-provided result URI
func (j *Job) resultLocation(jobID string, resp *ondemand.StatusResponse) string {
	if resp.ResultURI != "" {
		return resp.ResultURI
	}
	return j.statusPath(jobID)
}
