package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tendant/ondemand-client/pkg/ondemand"
)

// Putter sends a JSON body with PUT; *client.Client satisfies it
type Putter interface {
	Put(ctx context.Context, path string, body any, headers map[string]string, out any) error
}

// HTTPResultWriter delivers job results to a callback endpoint with PUT
type HTTPResultWriter struct {
	putter  Putter
	prefix  string
	headers map[string]string
}

// NewHTTPResultWriter creates a writer that PUTs results to prefix/{key}
func NewHTTPResultWriter(putter Putter, prefix string, headers map[string]string) *HTTPResultWriter {
	return &HTTPResultWriter{
		putter:  putter,
		prefix:  strings.TrimRight(prefix, "/"),
		headers: headers,
	}
}

// PutResult sends result to the callback and returns the path it was sent to
func (w *HTTPResultWriter) PutResult(ctx context.Context, key string, result *ondemand.ContainerResult) (string, error) {
	target := w.prefix + "/" + url.PathEscape(key)
	if err := w.putter.Put(ctx, target, result, w.headers, nil); err != nil {
		return "", fmt.Errorf("put result: %w", err)
	}
	return target, nil
}
