package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// ResultDerivationType is the derivation type used for stored job results
const ResultDerivationType = "ondemand_result"

// ContentSource reads a job's input file from a simple-content service
type ContentSource struct {
	service   simplecontent.Service
	contentID uuid.UUID
	name      string
}

// NewContentSource creates a source for contentID. name is the upload file
// name; it defaults to the content ID.
func NewContentSource(service simplecontent.Service, contentID, name string) (*ContentSource, error) {
	// Parse content ID
	id, err := uuid.Parse(contentID)
	if err != nil {
		return nil, fmt.Errorf("invalid content ID: %w", err)
	}
	if name == "" {
		name = id.String()
	}

	return &ContentSource{
		service:   service,
		contentID: id,
		name:      name,
	}, nil
}

// Name returns the upload file name
func (cs *ContentSource) Name() string { return cs.name }

// Open downloads the content
func (cs *ContentSource) Open(ctx context.Context) (io.ReadCloser, error) {
	reader, err := cs.service.DownloadContent(ctx, cs.contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to download content: %w", err)
	}
	return reader, nil
}

// Stat returns size and MIME type from the content details
func (cs *ContentSource) Stat(ctx context.Context) (*Metadata, error) {
	details, err := cs.service.GetContentDetails(ctx, cs.contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get content details: %w", err)
	}

	return &Metadata{
		Size:        details.FileSize,
		ContentType: details.MimeType,
	}, nil
}

// ContentResultWriter stores job results as derived content of the input
type ContentResultWriter struct {
	service simplecontent.Service
}

// NewContentResultWriter creates a result writer backed by service
func NewContentResultWriter(service simplecontent.Service) *ContentResultWriter {
	return &ContentResultWriter{
		service: service,
	}
}

// PutResult uploads result as JSON derived content of the content ID key and
// returns the derived content ID.
func (w *ContentResultWriter) PutResult(ctx context.Context, key string, result *ondemand.ContainerResult) (string, error) {
	// Parse parent content ID
	parentID, err := uuid.Parse(key)
	if err != nil {
		return "", fmt.Errorf("invalid content ID: %w", err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}

	variant := ResultDerivationType
	if result.Data != nil && result.Data.VersionNumber != "" {
		variant = fmt.Sprintf("%s_v%s", ResultDerivationType, result.Data.VersionNumber)
	}

	derived, err := w.service.UploadDerivedContent(ctx, simplecontent.UploadDerivedContentRequest{
		ParentID:       parentID,
		DerivationType: ResultDerivationType,
		Variant:        variant,
		Reader:         bytes.NewReader(data),
		FileName:       variant + ".json",
		Tags:           []string{ResultDerivationType, variant},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload derived content: %w", err)
	}

	return derived.ID.String(), nil
}
