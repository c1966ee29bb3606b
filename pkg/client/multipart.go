package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
)

// ErrNestedSequence is returned when a sequence element itself holds a sequence.
// Only one level of flattening is supported.
var ErrNestedSequence = errors.New("multipart: nested sequences are not supported")

// Field is one multipart form field: either a scalar value or a sequence of
// records flattened as key[index][subkey]=value.
type Field struct {
	Key   string
	Value string
	Items []Fields

	sequence bool
}

// Fields is an ordered list of form fields
type Fields []Field

// String creates a scalar field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a scalar field holding "true" or "false"
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: strconv.FormatBool(value)}
}

// Sequence creates a sequence-valued field. An empty sequence encodes nothing.
func Sequence(key string, items ...Fields) Field {
	return Field{Key: key, Items: items, sequence: true}
}

// IsSequence reports whether the field is sequence-valued
func (f Field) IsSequence() bool {
	return f.sequence || len(f.Items) > 0
}

// File is the binary part of a multipart request
type File struct {
	FieldName   string // defaults to "file"
	FileName    string
	ContentType string // defaults to application/octet-stream
	Reader      io.Reader
}

// Flatten returns the form entries produced by fields, in order.
func (fields Fields) Flatten() ([][2]string, error) {
	var out [][2]string
	for _, f := range fields {
		if !f.IsSequence() {
			out = append(out, [2]string{f.Key, f.Value})
			continue
		}
		for i, item := range f.Items {
			for _, sub := range item {
				if sub.IsSequence() {
					return nil, fmt.Errorf("%s[%d][%s]: %w", f.Key, i, sub.Key, ErrNestedSequence)
				}
				out = append(out, [2]string{fmt.Sprintf("%s[%d][%s]", f.Key, i, sub.Key), sub.Value})
			}
		}
	}
	return out, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeMultipart writes fields and the optional file into a multipart body
// and returns it with its content type (including the boundary).
func encodeMultipart(fields Fields, file *File) (*bytes.Buffer, string, error) {
	entries, err := fields.Flatten()
	if err != nil {
		return nil, "", err
	}

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, e := range entries {
		if err := w.WriteField(e[0], e[1]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", e[0], err)
		}
	}

	if file != nil {
		fieldName := file.FieldName
		if fieldName == "" {
			fieldName = "file"
		}
		contentType := file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(fieldName), quoteEscaper.Replace(file.FileName)))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part: %w", err)
		}
		if file.Reader != nil {
			if _, err := io.Copy(part, file.Reader); err != nil {
				return nil, "", fmt.Errorf("copy file: %w", err)
			}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, w.FormDataContentType(), nil
}
