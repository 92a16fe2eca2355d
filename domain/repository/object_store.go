package repository

import (
	"context"
	"io"
	"time"
)

// IObjectStore fronts the blob store that holds video files. Keys are
// opaque; callers never see bucket names or credentials.
type IObjectStore interface {
	// PresignUpload returns a URL the client PUTs the file to directly.
	PresignUpload(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error)
	// PresignDownload returns a URL that platforms pull media from.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Open streams the object. The caller closes the reader.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Size stats the object without fetching it.
	Size(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}
