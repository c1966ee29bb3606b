package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ImageFitter downsizes an image source to fit a bounding box before upload.
// Output is always JPEG.
type ImageFitter struct {
	src     Source
	width   int
	height  int
	quality int
}

// NewImageFitter wraps src so that Open yields an image no larger than
// width x height. Images already inside the box keep their dimensions.
func NewImageFitter(src Source, width, height int) (*ImageFitter, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("invalid image bounds: %dx%d", width, height)
	}
	return &ImageFitter{src: src, width: width, height: height, quality: 80}, nil
}

// Name returns the source name with a .jpg extension
func (f *ImageFitter) Name() string {
	name := f.src.Name()
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}

// Open decodes the source image, fits it and re-encodes it as JPEG
func (f *ImageFitter) Open(ctx context.Context) (io.ReadCloser, error) {
	reader, err := f.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	img, _, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("image decode failed: %w", err)
	}

	// Lanczos resampling; Fit never enlarges
	fitted := imaging.Fit(img, f.width, f.height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, fitted, &jpeg.Options{Quality: f.quality}); err != nil {
		return nil, fmt.Errorf("JPEG encode failed: %w", err)
	}
	return io.NopCloser(&buf), nil
}

// Stat reports the JPEG content type; the size is only known after encoding
func (f *ImageFitter) Stat(ctx context.Context) (*Metadata, error) {
	return &Metadata{Size: -1, ContentType: "image/jpeg"}, nil
}
