package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStorage resolves job input files below a base directory
type FilesystemStorage struct {
	baseDir string
}

// NewFilesystemStorage creates a filesystem storage rooted at baseDir
func NewFilesystemStorage(baseDir string) (*FilesystemStorage, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base directory is not a directory: %s", abs)
	}

	return &FilesystemStorage{
		baseDir: abs,
	}, nil
}

// Source returns the file at key as a job source
func (fs *FilesystemStorage) Source(key string) (*FileSource, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path}, nil
}

// resolve joins key to the base directory, rejecting paths that escape it
func (fs *FilesystemStorage) resolve(key string) (string, error) {
	path := filepath.Join(fs.baseDir, key)

	// Security: prevent directory traversal
	rel, err := filepath.Rel(fs.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key: path traversal detected")
	}
	return path, nil
}

// FileSource is a job source backed by a local file
type FileSource struct {
	path string
}

// NewFileSource creates a source for the file at path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name returns the base name of the file
func (f *FileSource) Name() string {
	return filepath.Base(f.path)
}

// Open opens the file for reading
func (f *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", f.path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Stat returns the size and extension-derived content type of the file
func (f *FileSource) Stat(ctx context.Context) (*Metadata, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", f.path)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &Metadata{
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(f.path)),
	}, nil
}

// BytesSource is an in-memory job source
type BytesSource struct {
	name        string
	data        []byte
	contentType string
}

// NewBytesSource creates a source over data
func NewBytesSource(name string, data []byte, contentType string) *BytesSource {
	return &BytesSource{name: name, data: data, contentType: contentType}
}

// Name returns the file name
func (b *BytesSource) Name() string { return b.name }

// Open returns a reader over the bytes
func (b *BytesSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Stat returns the byte length and the configured content type
func (b *BytesSource) Stat(ctx context.Context) (*Metadata, error) {
	return &Metadata{Size: int64(len(b.data)), ContentType: b.contentType}, nil
}
