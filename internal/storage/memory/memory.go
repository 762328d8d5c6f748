package memory

import (
	"context"
	"sync"

	"github.com/ondrasimku/file-intake/internal/domain"
	"github.com/ondrasimku/file-intake/internal/storage"
)

// MemoryBackend keeps the list in process. Index 0 is the most recent record.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []domain.FileRecord
}

var _ storage.Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) PushTrim(ctx context.Context, rec domain.FileRecord, opts storage.PushOptions) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := make([]domain.FileRecord, 0, len(b.records)+1)
	next = append(next, rec)
	for _, r := range b.records {
		if opts.ReplaceName && r.Name == rec.Name {
			continue
		}
		next = append(next, r)
	}

	evicted := 0
	if opts.Capacity > 0 && len(next) > opts.Capacity {
		evicted = len(next) - opts.Capacity
		next = next[:opts.Capacity]
	}

	b.records = next
	return evicted, nil
}

func (b *MemoryBackend) Range(ctx context.Context, limit int) ([]domain.FileRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.FileRecord, n)
	copy(out, b.records[:n])
	return out, nil
}

func (b *MemoryBackend) RemoveFirst(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, r := range b.records {
		if r.Name != name {
			continue
		}
		next := make([]domain.FileRecord, 0, len(b.records)-1)
		next = append(next, b.records[:i]...)
		next = append(next, b.records[i+1:]...)
		b.records = next
		return true, nil
	}
	return false, nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	b.records = nil
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}
