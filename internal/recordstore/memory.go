package recordstore

import (
	"bytes"
	"context"
	"sync"
)

// MemoryBackend keeps documents in process memory. Nothing survives a
// restart; it exists for tests and throwaway runs.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

func (b *MemoryBackend) Read(ctx context.Context, doc string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.docs[doc]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (b *MemoryBackend) Write(ctx context.Context, doc string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[doc] = bytes.Clone(data)
	return nil
}

func (b *MemoryBackend) Update(ctx context.Context, doc string, fn func([]byte) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var current []byte
	if data, ok := b.docs[doc]; ok {
		current = bytes.Clone(data)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	b.docs[doc] = bytes.Clone(next)
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error {
	return nil
}
