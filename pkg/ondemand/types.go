package ondemand

import (
	"encoding/json"
	"fmt"
)

// Job status values as reported by the processing API.
const (
	StatusCompleted = "completed"
)

// PathMapping describes how one input field maps to one output field.
type PathMapping struct {
	Source       string  `json:"source"`
	Destination  string  `json:"destination"`
	DefaultValue *string `json:"defaultValue"`
}

// NewPathMapping creates a mapping without a default value
func NewPathMapping(source, destination string) PathMapping {
	return PathMapping{Source: source, Destination: destination}
}

// WithDefault returns a copy of m carrying the given default value. An empty
// value clears the default.
func (m PathMapping) WithDefault(value string) PathMapping {
	if value == "" {
		m.DefaultValue = nil
		return m
	}
	m.DefaultValue = &value
	return m
}

// OnDemandJob is the remote job record returned by the processing API.
// The API uses capitalized keys on the wire. Counters are kept as float64
// since the API may send any JSON number.
type OnDemandJob struct {
	ID               string    `json:"Id"`
	CreatedDateUTC   Timestamp `json:"CreatedDateUtc"`
	LastUpdatedUTC   Timestamp `json:"LastUpdatedUtc"`
	Name             string    `json:"Name"`
	InputFileName    string    `json:"InputFileName"`
	InputMime        string    `json:"InputMime"`
	BilledUsage      float64   `json:"BilledUsage"`
	RecordCount      float64   `json:"RecordCount"`
	RecordGroupCount float64   `json:"RecordGroupCount"`
	ProcessingTimeMS float64   `json:"ProcessingTimeMS"`
	Status           string    `json:"Status"`
	ErrorMessage     *string   `json:"ErrorMessage"`
	VersionNumber    string    `json:"VersionNumber"`
}

// ContainerResult is the outcome envelope of one submission or status check
type ContainerResult struct {
	Data         *OnDemandJob `json:"Data"`
	IsError      bool         `json:"IsError"`
	ErrorMessage *string      `json:"ErrorMessage"`
}

// Validate checks that a successful result carries job data
func (r *ContainerResult) Validate() error {
	if !r.IsError && r.Data == nil {
		return fmt.Errorf("container result without data: %w", ErrMissingData)
	}
	return nil
}

// Message returns the envelope error message, or "" when none was sent
func (r *ContainerResult) Message() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// StatusResponse is the body returned when polling a job by identifier
type StatusResponse struct {
	Completed bool `json:"completed"`
	ContainerResult
	ResultURI string `json:"resultUri,omitempty"`
}

// DecodeContainerResult parses and validates a ContainerResult envelope
func DecodeContainerResult(raw []byte) (*ContainerResult, error) {
	var result ContainerResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &ParseError{Body: raw, Err: err}
	}
	if err := result.Validate(); err != nil {
		return nil, &ParseError{Body: raw, Err: err}
	}
	return &result, nil
}
