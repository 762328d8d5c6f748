// Package storagetest holds the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ondrasimku/file-intake/internal/domain"
	"github.com/ondrasimku/file-intake/internal/storage"
)

var base = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// Record builds a record whose timestamp grows with i.
func Record(name string, i int) domain.FileRecord {
	return domain.FileRecord{
		ID:         uuid.New(),
		Name:       name,
		Size:       int64(100 + i),
		MediaType:  "application/pdf",
		UploadedAt: base.Add(time.Duration(i) * time.Second),
	}
}

func names(records []domain.FileRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

// Run exercises a backend built fresh by newBackend for every subtest.
func Run(t *testing.T, newBackend func(t *testing.T) storage.Backend) {
	ctx := context.Background()

	t.Run("push places newest at head", func(t *testing.T) {
		b := newBackend(t)
		first := Record("a.pdf", 1)
		_, err := b.PushTrim(ctx, first, storage.PushOptions{Capacity: 5})
		require.NoError(t, err)
		_, err = b.PushTrim(ctx, Record("b.pdf", 2), storage.PushOptions{Capacity: 5})
		require.NoError(t, err)

		got, err := b.Range(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"b.pdf", "a.pdf"}, names(got))
		assert.Equal(t, first, got[1])
	})

	t.Run("trim evicts oldest", func(t *testing.T) {
		b := newBackend(t)
		evictedTotal := 0
		for i := 1; i <= 5; i++ {
			evicted, err := b.PushTrim(ctx, Record(fmt.Sprintf("f%d", i), i), storage.PushOptions{Capacity: 3})
			require.NoError(t, err)
			evictedTotal += evicted
		}

		got, err := b.Range(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"f5", "f4", "f3"}, names(got))
		assert.Equal(t, 2, evictedTotal)
	})

	t.Run("range honours limit", func(t *testing.T) {
		b := newBackend(t)
		for i := 1; i <= 4; i++ {
			_, err := b.PushTrim(ctx, Record(fmt.Sprintf("f%d", i), i), storage.PushOptions{Capacity: 10})
			require.NoError(t, err)
		}

		got, err := b.Range(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"f4", "f3"}, names(got))

		got, err = b.Range(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("remove first match only", func(t *testing.T) {
		b := newBackend(t)
		for i, name := range []string{"dup", "x", "dup"} {
			_, err := b.PushTrim(ctx, Record(name, i), storage.PushOptions{Capacity: 10})
			require.NoError(t, err)
		}

		found, err := b.RemoveFirst(ctx, "dup")
		require.NoError(t, err)
		assert.True(t, found)

		got, err := b.Range(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "dup"}, names(got))
		assert.Equal(t, int64(100), got[1].Size, "the older duplicate must survive")
	})

	t.Run("remove absent is a no-op", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.PushTrim(ctx, Record("a", 1), storage.PushOptions{Capacity: 10})
		require.NoError(t, err)

		found, err := b.RemoveFirst(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, found)

		got, err := b.Range(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, names(got))
	})

	t.Run("replace name drops older records", func(t *testing.T) {
		b := newBackend(t)
		for i, name := range []string{"a", "b", "a"} {
			_, err := b.PushTrim(ctx, Record(name, i), storage.PushOptions{Capacity: 10})
			require.NoError(t, err)
		}

		_, err := b.PushTrim(ctx, Record("a", 9), storage.PushOptions{Capacity: 10, ReplaceName: true})
		require.NoError(t, err)

		got, err := b.Range(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names(got))
		assert.Equal(t, int64(109), got[0].Size)
	})

	t.Run("clear empties list", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.PushTrim(ctx, Record("a", 1), storage.PushOptions{Capacity: 10})
		require.NoError(t, err)
		require.NoError(t, b.Clear(ctx))

		got, err := b.Range(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("concurrent pushes never exceed capacity", func(t *testing.T) {
		b := newBackend(t)
		const writers = 40
		const capacity = 10

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		stop := make(chan struct{})
		overflow := make(chan int, 1)
		readerDone := make(chan struct{})

		go func() {
			defer close(readerDone)
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := b.Range(ctx, 0)
				if err == nil && len(got) > capacity {
					select {
					case overflow <- len(got):
					default:
					}
				}
			}
		}()

		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := b.PushTrim(ctx, Record(fmt.Sprintf("w%d", i), i), storage.PushOptions{Capacity: capacity})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(stop)
		<-readerDone
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		select {
		case n := <-overflow:
			t.Fatalf("observed %d records with capacity %d", n, capacity)
		default:
		}

		got, err := b.Range(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, got, capacity)

		seen := make(map[string]bool)
		for _, r := range got {
			assert.False(t, seen[r.Name], "duplicate %s", r.Name)
			seen[r.Name] = true
		}
	})
}
