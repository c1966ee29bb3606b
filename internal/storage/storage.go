package storage

import (
	"context"
	"io"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// Source provides read access to a job's input file
type Source interface {
	// Name returns the file name sent with the upload
	Name() string

	// Open returns a reader for the file contents
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Metadata contains storage object metadata
type Metadata struct {
	Size        int64
	ContentType string
}

// SourceWithMetadata is a Source that can describe its contents
type SourceWithMetadata interface {
	Source

	// Stat returns metadata for the file
	Stat(ctx context.Context) (*Metadata, error)
}

// ResultWriter stores a completed job result
type ResultWriter interface {
	// PutResult stores result under key and returns the stored location
	PutResult(ctx context.Context, key string, result *ondemand.ContainerResult) (string, error)
}
