// Package storage defines the blob store used to archive run transcripts.
// Implementations live in the local, gcs and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore writes objects and returns a URI that locates them.
type BlobStore interface {
	// PutObject stores the content read from r under path.
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
