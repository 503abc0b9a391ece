package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned by Get and Stat when the key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo contains metadata about a stored object
type ObjectInfo struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}

// Client defines the interface for object storage operations.
// Keys are slash-separated and never start with a slash.
type Client interface {
	// Put writes size bytes from r under key, replacing any existing object
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Get opens the object for reading. The caller must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns object metadata without reading content
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Exists checks whether key is present
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ChapterKey is the content-addressed key for a chapter body.
func ChapterKey(md5 string) string {
	return "chapters/" + md5 + ".txt"
}

// PutText stores a UTF-8 string under key.
func PutText(ctx context.Context, client Client, key, text string) error {
	return client.Put(ctx, key, bytes.NewReader([]byte(text)), int64(len(text)), "text/plain; charset=utf-8")
}

// ReadText reads the whole object at key as a string.
func ReadText(ctx context.Context, client Client, key string) (string, error) {
	rc, err := client.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", key, err)
	}
	return string(data), nil
}
