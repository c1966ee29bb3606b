package ondemand

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when a poll is cancelled by its handle or context
	ErrCancelled = errors.New("ondemand: job cancelled")

	// ErrPollLimit is returned when polling exceeds its check count or duration
	ErrPollLimit = errors.New("ondemand: poll limit exceeded")

	// ErrInvalidJob is returned when a job is missing required submission fields
	ErrInvalidJob = errors.New("ondemand: invalid job")

	// ErrBusy is returned when a job is submitted while a submission is in flight
	ErrBusy = errors.New("ondemand: job submission already in progress")

	// ErrMissingJobID is returned when the create-job response has no identifier
	ErrMissingJobID = errors.New("ondemand: no job identifier in response")

	// ErrMissingData is returned when a non-error result carries no job data
	ErrMissingData = errors.New("ondemand: result has no data")
)

// RequestError reports a non-success HTTP status
type RequestError struct {
	StatusCode int
	Status     string // status text, e.g. "400 Bad Request"
	Message    string // server-provided message, if any
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request failed: %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request failed: %s", e.Status)
}

// ParseError reports a body that could not be decoded as the expected JSON
type ParseError struct {
	Body []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NotReadyError is returned when a result is requested before completion
type NotReadyError struct {
	Status    string
	HasResult bool
}

func (e *NotReadyError) Error() string {
	if e.Status == "" {
		return "result not available yet"
	}
	return fmt.Sprintf("result not available yet (status %q)", e.Status)
}

// TransportError reports a network failure before a response was received
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
