package storage

import (
	"context"

	"github.com/ondrasimku/file-intake/internal/domain"
)

type PushOptions struct {
	// Capacity is the maximum list length kept after the push. Zero or less
	// disables trimming.
	Capacity int
	// ReplaceName drops every existing record with the same name as part of
	// the push.
	ReplaceName bool
}

// Backend persists one ordered list of records, most recent first. Every
// method is atomic with respect to every other method, including callers in
// other processes sharing the same store.
type Backend interface {
	// PushTrim places rec at the head and trims the tail down to
	// opts.Capacity in one step. It reports how many records were evicted
	// by the trim.
	PushTrim(ctx context.Context, rec domain.FileRecord, opts PushOptions) (int, error)
	// Range returns up to limit records from the head. limit <= 0 means all.
	Range(ctx context.Context, limit int) ([]domain.FileRecord, error)
	// RemoveFirst deletes the first record, in recency order, named name.
	RemoveFirst(ctx context.Context, name string) (bool, error)
	Clear(ctx context.Context) error
	Close() error
}
