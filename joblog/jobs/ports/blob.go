package jobports

import "context"

// BlobStore keeps large payload bytes outside the record store.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete succeeds for a missing key.
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}
