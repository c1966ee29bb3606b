package job

import (
	"net/http"

	"github.com/tendant/simple-content/pkg/simplecontent"

	"github.com/tendant/ondemand-client/internal/storage"
)

// File is the input uploaded with a job. It is reopened for every
// submission, so a Job can be submitted again with the same File.
type File = storage.Source

// ResultSink stores completed results and returns their location
type ResultSink = storage.ResultWriter

// FromBytes returns an in-memory file
func FromBytes(name string, data []byte, contentType string) File {
	return storage.NewBytesSource(name, data, contentType)
}

// FromPath returns the file name under root. Names escaping root are rejected.
func FromPath(root, name string) (File, error) {
	fs, err := storage.NewFilesystemStorage(root)
	if err != nil {
		return nil, err
	}
	src, err := fs.Source(name)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// FromURL returns a file downloaded from rawURL at submission time.
// A nil httpClient uses http.DefaultClient.
func FromURL(rawURL string, httpClient *http.Client) (File, error) {
	src, err := storage.NewHTTPSource(rawURL, httpClient)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// FromContent returns a file stored in a simple-content service
func FromContent(svc simplecontent.Service, contentID, name string) (File, error) {
	src, err := storage.NewContentSource(svc, contentID, name)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// FitImage wraps an image file so it is shrunk to fit width x height and
// uploaded as JPEG.
func FitImage(f File, width, height int) (File, error) {
	fitter, err := storage.NewImageFitter(f, width, height)
	if err != nil {
		return nil, err
	}
	return fitter, nil
}

// ContentResultSink stores results as derived content of the input in a
// simple-content service. Set Request.ResultKey to the input's content ID.
func ContentResultSink(svc simplecontent.Service) ResultSink {
	return storage.NewContentResultWriter(svc)
}

// HTTPResultSink PUTs results as JSON to prefix/{key}
func HTTPResultSink(putter storage.Putter, prefix string, headers map[string]string) ResultSink {
	return storage.NewHTTPResultWriter(putter, prefix, headers)
}
