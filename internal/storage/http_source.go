package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
)

// HTTPSource downloads a job's input file from a URL
type HTTPSource struct {
	url        string
	name       string
	httpClient *http.Client
}

// NewHTTPSource creates a source that downloads rawURL when opened.
// The file name defaults to the last path segment of the URL.
func NewHTTPSource(rawURL string, httpClient *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid source URL scheme: %q", u.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}

	return &HTTPSource{
		url:        rawURL,
		name:       name,
		httpClient: httpClient,
	}, nil
}

// Name returns the file name
func (s *HTTPSource) Name() string { return s.name }

// Open downloads the file
func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return resp.Body, nil
}

// Stat issues a HEAD request for the file's size and content type
func (s *HTTPSource) Stat(ctx context.Context) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return &Metadata{
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
