package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ondrasimku/file-intake/internal/domain"
	"github.com/ondrasimku/file-intake/internal/metrics"
	"github.com/ondrasimku/file-intake/internal/storage"
)

// ErrStorage marks a backend failure that survived every retry.
var ErrStorage = errors.New("registry storage error")

type Options struct {
	Capacity int
	// ReplaceDuplicates makes Insert drop older records with the same name,
	// keeping at most one record per name.
	ReplaceDuplicates bool
	RetryAttempts     int
	RetryBackoff      time.Duration
	// OpTimeout bounds a single backend attempt. Zero means no bound beyond
	// the caller's context.
	OpTimeout time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// Registry is the bounded, most-recent-first collection of accepted files.
type Registry struct {
	backend storage.Backend
	opts    Options
	logger  *slog.Logger

	// mu orders timestamp assignment with the push so uploadedAt never
	// decreases along the list.
	mu   sync.Mutex
	last time.Time
}

func New(backend storage.Backend, opts Options) (*Registry, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", opts.Capacity)
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		backend: backend,
		opts:    opts,
		logger:  logger,
	}, nil
}

func (r *Registry) Capacity() int {
	return r.opts.Capacity
}

// Insert stamps rec and pushes it to the head, evicting the oldest records
// beyond capacity. The returned record is the stored form.
func (r *Registry) Insert(ctx context.Context, rec domain.FileRecord) (domain.FileRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now().UTC().Truncate(time.Microsecond)
	if now.Before(r.last) {
		now = r.last
	}
	rec.UploadedAt = now

	var evicted int
	err := r.do(ctx, "insert", func(ctx context.Context) error {
		var err error
		evicted, err = r.backend.PushTrim(ctx, rec, storage.PushOptions{
			Capacity:    r.opts.Capacity,
			ReplaceName: r.opts.ReplaceDuplicates,
		})
		return err
	})
	if err != nil {
		return domain.FileRecord{}, err
	}

	r.last = now
	if evicted > 0 {
		metrics.RecordEvictions(evicted)
		r.logger.Debug("Evicted oldest records", "count", evicted, "capacity", r.opts.Capacity)
	}
	return rec, nil
}

// List returns up to limit records, most recent first. limit <= 0 or above
// capacity is clamped to capacity.
func (r *Registry) List(ctx context.Context, limit int) ([]domain.FileRecord, error) {
	if limit <= 0 || limit > r.opts.Capacity {
		limit = r.opts.Capacity
	}

	var records []domain.FileRecord
	err := r.do(ctx, "list", func(ctx context.Context) error {
		var err error
		records, err = r.backend.Range(ctx, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns the most recent record named name.
func (r *Registry) Get(ctx context.Context, name string) (domain.FileRecord, bool, error) {
	records, err := r.List(ctx, 0)
	if err != nil {
		return domain.FileRecord{}, false, err
	}
	for _, rec := range records {
		if rec.Name == name {
			return rec, true, nil
		}
	}
	return domain.FileRecord{}, false, nil
}

// Remove deletes the most recent record named name. Removing an absent name
// reports false and changes nothing.
func (r *Registry) Remove(ctx context.Context, name string) (bool, error) {
	var found bool
	err := r.do(ctx, "remove", func(ctx context.Context) error {
		var err error
		found, err = r.backend.RemoveFirst(ctx, name)
		return err
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (r *Registry) Clear(ctx context.Context) error {
	return r.do(ctx, "clear", r.backend.Clear)
}

// do runs fn with bounded retries and exponential backoff. The final failure
// is wrapped in ErrStorage.
func (r *Registry) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := r.opts.RetryBackoff
	var err error

	for attempt := 1; ; attempt++ {
		err = r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt >= r.opts.RetryAttempts || ctx.Err() != nil {
			break
		}

		r.logger.Warn("Registry backend call failed, retrying",
			"op", op, "attempt", attempt, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
		backoff *= 2
	}

	metrics.RecordStorageError(op)
	r.logger.Error("Registry backend call failed", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func (r *Registry) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.opts.OpTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.OpTimeout)
	defer cancel()
	return fn(ctx)
}
