package jobports

import (
	"context"
	"time"
)

// Cache holds encoded records in process, keyed by fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Purge(ctx context.Context) error
}
