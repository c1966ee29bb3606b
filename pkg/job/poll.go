package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// Poll is the handle of a running status poll started by Job.Start
type Poll struct {
	job    *Job
	req    Request
	jobID  string
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   context.CancelFunc
	done   chan struct{}

	result *ondemand.ContainerResult
	err    error
}

func newPoll(parent context.Context, j *Job, req Request, jobID string) *Poll {
	ctx, cancel := context.WithCancelCause(parent)
	stop := context.CancelFunc(func() {})
	if j.cfg.MaxWait > 0 {
		limit := fmt.Errorf("%w: not completed within %s", ondemand.ErrPollLimit, j.cfg.MaxWait)
		ctx, stop = context.WithTimeoutCause(ctx, j.cfg.MaxWait, limit)
	}
	return &Poll{
		job:    j,
		req:    req,
		jobID:  jobID,
		ctx:    ctx,
		cancel: cancel,
		stop:   stop,
		done:   make(chan struct{}),
	}
}

// JobID returns the identifier assigned by the server
func (p *Poll) JobID() string { return p.jobID }

// Cancel stops the poll. Wait then returns ErrCancelled.
// Cancelling a finished poll has no effect.
func (p *Poll) Cancel() {
	p.cancel(ondemand.ErrCancelled)
}

// Done is closed once the poll has finished
func (p *Poll) Done() <-chan struct{} { return p.done }

// Wait blocks until the poll finishes and returns its outcome. If ctx is
// done first the poll is cancelled.
func (p *Poll) Wait(ctx context.Context) (*ondemand.ContainerResult, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.cancel(fmt.Errorf("%w: %w", ondemand.ErrCancelled, context.Cause(ctx)))
		<-p.done
	}
	return p.result, p.err
}

// run checks the status every interval until the job completes. The timer is
// re-armed only after a check returns, so checks never overlap.
func (p *Poll) run() {
	defer close(p.done)
	defer p.cancel(nil)
	defer p.stop()

	j := p.job
	timer := time.NewTimer(j.cfg.Interval)
	defer timer.Stop()

	for checks := 1; ; checks++ {
		select {
		case <-p.ctx.Done():
			p.finish(nil, p.stopReason())
			return
		case <-timer.C:
		}

		resp, err := j.check(p.ctx, p.req, p.jobID)
		if err != nil {
			if p.ctx.Err() != nil {
				err = p.stopReason()
			}
			// Errors are not retried
			p.finish(nil, err)
			return
		}

		if resp.Completed {
			j.complete(p.ctx, modePolling, p.req, p.jobID, j.resultLocation(p.jobID, resp), &resp.ContainerResult)
			p.finish(&resp.ContainerResult, nil)
			return
		}

		if j.cfg.MaxChecks > 0 && checks >= j.cfg.MaxChecks {
			p.finish(nil, fmt.Errorf("%w: not completed after %d checks", ondemand.ErrPollLimit, checks))
			return
		}
		timer.Reset(j.cfg.Interval)
	}
}

// finish records the outcome and frees the job for another submission
func (p *Poll) finish(result *ondemand.ContainerResult, err error) {
	if err != nil {
		err = p.job.fail(modePolling, err)
	}
	p.result = result
	p.err = err
	p.job.release()
}

func (p *Poll) stopReason() error {
	cause := context.Cause(p.ctx)
	if errors.Is(cause, ondemand.ErrCancelled) || errors.Is(cause, ondemand.ErrPollLimit) {
		return cause
	}
	return fmt.Errorf("%w: %w", ondemand.ErrCancelled, cause)
}
