package gcs

import (
	"context"
	"io"
)

// ObjectStore reads and writes statement objects addressed by gs:// URIs.
// Jobs and the CLI depend on this interface so tests can use an in-memory fake.
type ObjectStore interface {
	// Fetch downloads the object's bytes and reports its content type.
	Fetch(ctx context.Context, uri string) (*Object, error)

	// Upload writes r to bucket/object and returns the object's gs:// URI.
	Upload(ctx context.Context, bucket, object string, r io.Reader, contentType string) (string, error)
}

// Object is a downloaded statement file.
type Object struct {
	URI         string
	Name        string
	ContentType string
	Data        []byte
}

// IsImage reports whether the object should go through OCR rather than text extraction.
func (o *Object) IsImage() bool {
	return isImageType(o.ContentType)
}
