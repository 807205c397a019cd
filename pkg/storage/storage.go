// Package storage abstracts the object store holding document binaries.
// Documents are addressed by opaque storage paths; downloads go through
// time-limited signed URLs rather than direct authorized reads.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStore writes document binaries and issues signed download URLs.
type ObjectStore interface {
	Upload(ctx context.Context, path string, r io.Reader, contentType string) error
	// SignedURL returns a link valid for ttl that bypasses authorization.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
