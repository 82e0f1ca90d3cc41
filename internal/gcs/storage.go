package gcs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// DefaultMaxObjectBytes bounds a single fetched statement.
const DefaultMaxObjectBytes = 20 << 20

// Client is the Cloud Storage implementation of ObjectStore. It holds one
// storage client for its lifetime.
type Client struct {
	client   *storage.Client
	maxBytes int64
	timeout  time.Duration
}

// NewClient connects with Application Default Credentials.
func NewClient(ctx context.Context, maxBytes int64) (*Client, error) {
	c, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxObjectBytes
	}
	return &Client{client: c, maxBytes: maxBytes, timeout: 2 * time.Minute}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Fetch downloads the object at uri. Objects larger than the configured
// limit are rejected before being read.
func (c *Client) Fetch(ctx context.Context, uri string) (*Object, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	if rc.Attrs.Size > c.maxBytes {
		return nil, fmt.Errorf("fetch: object %s is %d bytes, limit %d", uri, rc.Attrs.Size, c.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(rc, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: reading bytes: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("fetch: object %s exceeds %d bytes", uri, c.maxBytes)
	}

	return &Object{
		URI:         uri,
		Name:        FilenameFromURI(uri),
		ContentType: contentTypeOf(rc.Attrs.ContentType, object),
		Data:        data,
	}, nil
}

// Upload streams r into bucket/object.
func (c *Client) Upload(ctx context.Context, bucket, object string, r io.Reader, contentType string) (string, error) {
	if bucket == "" || object == "" {
		return "", fmt.Errorf("upload: bucket and object are required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentTypeOf(contentType, object)

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload: copy to writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload: finalize: %w", err)
	}
	return "gs://" + bucket + "/" + object, nil
}

// ParseURI splits gs://bucket/path/to/object into its bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid storage URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid storage URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromURI returns the last path element, e.g.
// "gs://bucket/2024/march.txt" → "march.txt".
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// contentTypeOf prefers the declared type and falls back to the extension.
func contentTypeOf(declared, name string) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".csv", ".log", "":
		return "text/plain"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		if mt, _, err := mime.ParseMediaType(t); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}

func isImageType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
