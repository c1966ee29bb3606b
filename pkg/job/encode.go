package job

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tendant/ondemand-client/internal/ledger"
	"github.com/tendant/ondemand-client/internal/storage"
	"github.com/tendant/ondemand-client/pkg/client"
	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// upload tracks the file opened for one submission and fingerprints the
// bytes as they are read for the request body.
type upload struct {
	rc io.Closer
	fp *ledger.Fingerprinter
}

func (u *upload) Close() error {
	if u.rc == nil {
		return nil
	}
	return u.rc.Close()
}

// Fingerprint returns the digest of the uploaded bytes, or "" without a file
func (u *upload) Fingerprint() string {
	if u.fp == nil {
		return ""
	}
	return u.fp.Sum()
}

// encodeSubmission builds the multipart form shared by both submission
// paths. The returned upload is never nil and must be closed.
func encodeSubmission(ctx context.Context, req Request) (client.Fields, *client.File, *upload, error) {
	md := req.Metadata.Normalized()

	fields := client.Fields{
		client.String("apiKey", req.APIKey),
		client.String("productId", req.ProductID),
		client.String("version", md.Version),
		client.String("mimeType", md.MimeType),
		client.String("name", md.Name),
		client.String("data", md.Data),
	}
	if md.GroupID != nil {
		fields = append(fields, client.String("groupId", *md.GroupID))
	}
	if md.IsGrouped != nil {
		fields = append(fields, client.Bool("isGrouped", *md.IsGrouped))
	}
	if md.VersionID != nil {
		fields = append(fields, client.String("versionId", *md.VersionID))
	}
	if md.ContainerID != nil {
		fields = append(fields, client.String("containerId", *md.ContainerID))
	}
	fields = append(fields,
		client.Sequence("mapping", mappingFields(md.Mapping)...),
		client.Sequence("outputMapping", mappingFields(md.OutputMapping)...),
	)

	if req.File == nil {
		return fields, nil, &upload{}, nil
	}

	rc, err := req.File.Open(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open input file: %w", err)
	}

	up := &upload{rc: rc, fp: ledger.NewFingerprinter()}
	return fields, &client.File{
		FileName:    req.File.Name(),
		ContentType: fileContentType(ctx, req.File, md.MimeType),
		Reader:      io.TeeReader(rc, up.fp),
	}, up, nil
}

func mappingFields(mappings []ondemand.PathMapping) []client.Fields {
	items := make([]client.Fields, 0, len(mappings))
	for _, m := range mappings {
		item := client.Fields{
			client.String("source", m.Source),
			client.String("destination", m.Destination),
		}
		// A missing or empty default is left out of the form rather than sent as "null"
		if m.DefaultValue != nil && *m.DefaultValue != "" {
			item = append(item, client.String("defaultValue", *m.DefaultValue))
		}
		items = append(items, item)
	}
	return items
}

// fileContentType prefers what the source reports, then the job's mime type
func fileContentType(ctx context.Context, f File, mimeType string) string {
	if s, ok := f.(storage.SourceWithMetadata); ok {
		if meta, err := s.Stat(ctx); err == nil && meta.ContentType != "" {
			return meta.ContentType
		}
	}
	return mimeType
}

// extractJobID reads the job identifier from a create-job response: either a
// bare JSON string or an object carrying jobId, id, Id or Data.Id.
func extractJobID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", ondemand.ErrMissingJobID
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return "", ondemand.ErrMissingJobID
		}
		return id, nil
	}

	var obj struct {
		JobID   string `json:"jobId"`
		LowerID string `json:"id"`
		Data    *struct {
			ID string `json:"Id"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", &ondemand.ParseError{Body: raw, Err: err}
	}

	switch {
	case obj.JobID != "":
		return obj.JobID, nil
	case obj.LowerID != "":
		return obj.LowerID, nil
	case obj.Data != nil && obj.Data.ID != "":
		return obj.Data.ID, nil
	}
	return "", ondemand.ErrMissingJobID
}
