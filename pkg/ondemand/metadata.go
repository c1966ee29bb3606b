package ondemand

import (
	"encoding/json"
)

// Metadata fully describes the shape of a job submission
type Metadata struct {
	Version       string        `json:"version"`
	MimeType      string        `json:"mimeType"`
	Name          string        `json:"name"`
	Mapping       []PathMapping `json:"mapping"`
	OutputMapping []PathMapping `json:"outputMapping"`
	Data          string        `json:"data"`
	GroupID       *string       `json:"groupId,omitempty"`
	IsGrouped     *bool         `json:"isGrouped,omitempty"`
	VersionID     *string       `json:"versionId,omitempty"`
	ContainerID   *string       `json:"containerId,omitempty"`
}

// NewMetadata creates metadata with empty mapping sequences
func NewMetadata(version, mimeType, name string) Metadata {
	return Metadata{
		Version:       version,
		MimeType:      mimeType,
		Name:          name,
		Mapping:       []PathMapping{},
		OutputMapping: []PathMapping{},
	}
}

// Normalized returns a copy whose mapping sequences are never nil
func (m Metadata) Normalized() Metadata {
	if m.Mapping == nil {
		m.Mapping = []PathMapping{}
	}
	if m.OutputMapping == nil {
		m.OutputMapping = []PathMapping{}
	}
	return m
}

type metadataJSON Metadata

// UnmarshalJSON implements json.Unmarshaler
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var aux metadataJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*m = Metadata(aux).Normalized()
	return nil
}

// MarshalJSON implements json.Marshaler
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(metadataJSON(m.Normalized()))
}

// ParseMetadata validates a metadata document against the metadata schema
// and decodes it.
func ParseMetadata(data []byte) (Metadata, error) {
	if err := validateMetadata(data); err != nil {
		return Metadata{}, &ParseError{Body: data, Err: err}
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, &ParseError{Body: data, Err: err}
	}
	return m, nil
}

// StringPtr returns a pointer to s, for optional metadata fields
func StringPtr(s string) *string { return &s }

// BoolPtr returns a pointer to b, for optional metadata fields
func BoolPtr(b bool) *bool { return &b }
