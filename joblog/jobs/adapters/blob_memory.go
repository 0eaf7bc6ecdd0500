package adapters

import (
	"context"
	"strings"
	"sync"

	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
)

// MemoryBlobStore implements BlobStore in process.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (b *MemoryBlobStore) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.blobs[key]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, key)
	return nil
}

func (b *MemoryBlobStore) DeletePrefix(ctx context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.blobs {
		if strings.HasPrefix(k, prefix) {
			delete(b.blobs, k)
		}
	}
	return nil
}

// Len returns the number of stored blobs.
func (b *MemoryBlobStore) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blobs)
}

// Ensure MemoryBlobStore implements the BlobStore interface.
var _ ports.BlobStore = (*MemoryBlobStore)(nil)
