package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ondrasimku/file-intake/internal/domain"
	"github.com/ondrasimku/file-intake/internal/storage"
	"github.com/ondrasimku/file-intake/internal/storage/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// MockBackend implements storage.Backend for testing failure paths.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) PushTrim(ctx context.Context, rec domain.FileRecord, opts storage.PushOptions) (int, error) {
	args := m.Called(ctx, rec, opts)
	return args.Int(0), args.Error(1)
}

func (m *MockBackend) Range(ctx context.Context, limit int) ([]domain.FileRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.FileRecord), args.Error(1)
}

func (m *MockBackend) RemoveFirst(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *MockBackend) Clear(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBackend) Close() error {
	return m.Called().Error(0)
}

// fakeClock hands out strictly increasing times unless told to go back.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newRegistry(t *testing.T, capacity int) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	r, err := New(memory.NewMemoryBackend(), Options{
		Capacity: capacity,
		Now:      clock.Now,
		Logger:   discard,
	})
	require.NoError(t, err)
	return r, clock
}

func record(name string) domain.FileRecord {
	return domain.FileRecord{Name: name, Size: 10, MediaType: "text/plain"}
}

func names(records []domain.FileRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Options{Capacity: 1})
	assert.Error(t, err)

	_, err = New(memory.NewMemoryBackend(), Options{Capacity: 0})
	assert.Error(t, err)
}

func TestInsert_AssignsIdentityAndTime(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 5)

	got, err := r.Insert(ctx, record("a.txt"))
	require.NoError(t, err)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", got.ID.String())
	assert.False(t, got.UploadedAt.IsZero())

	list, err := r.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, got, list[0])
}

func TestInsert_CapacityAndOrder(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 3)

	for i := 1; i <= 7; i++ {
		_, err := r.Insert(ctx, record(fmt.Sprintf("f%d", i)))
		require.NoError(t, err)

		list, err := r.List(ctx, 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(list), 3)
		for j := 1; j < len(list); j++ {
			assert.False(t, list[j].UploadedAt.After(list[j-1].UploadedAt), "list must be most recent first")
		}
	}

	list, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"f7", "f6", "f5"}, names(list))
}

func TestInsert_ClockGoingBackwardsIsClamped(t *testing.T) {
	ctx := context.Background()
	r, clock := newRegistry(t, 5)

	first, err := r.Insert(ctx, record("a"))
	require.NoError(t, err)

	clock.Set(first.UploadedAt.Add(-time.Hour))
	second, err := r.Insert(ctx, record("b"))
	require.NoError(t, err)

	assert.False(t, second.UploadedAt.Before(first.UploadedAt))
}

func TestInsert_ReplaceDuplicates(t *testing.T) {
	ctx := context.Background()
	r, err := New(memory.NewMemoryBackend(), Options{Capacity: 5, ReplaceDuplicates: true, Logger: discard})
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "a"} {
		_, err := r.Insert(ctx, record(name))
		require.NoError(t, err)
	}

	list, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(list))
}

func TestList_Limit(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 4)
	for i := 1; i <= 4; i++ {
		_, err := r.Insert(ctx, record(fmt.Sprintf("f%d", i)))
		require.NoError(t, err)
	}

	list, err := r.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"f4", "f3"}, names(list))

	list, err = r.List(ctx, 99)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 5)
	for _, name := range []string{"keep", "gone"} {
		_, err := r.Insert(ctx, record(name))
		require.NoError(t, err)
	}

	found, err := r.Remove(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = r.Remove(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, found)

	list, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, names(list))
}

func TestRemove_AbsentLeavesListUnchanged(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 5)
	_, err := r.Insert(ctx, record("a"))
	require.NoError(t, err)

	before, err := r.List(ctx, 0)
	require.NoError(t, err)

	found, err := r.Remove(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, found)

	after, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 5)
	_, err := r.Insert(ctx, record("old"))
	require.NoError(t, err)

	inserted, err := r.Insert(ctx, record("new"))
	require.NoError(t, err)

	list, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, inserted, list[0])

	got, ok, err := r.Get(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, inserted, got)

	found, err := r.Remove(ctx, "new")
	require.NoError(t, err)
	assert.True(t, found)

	_, ok, err = r.Get(ctx, "new")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t, 5)
	_, err := r.Insert(ctx, record("a"))
	require.NoError(t, err)

	require.NoError(t, r.Clear(ctx))
	list, err := r.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConcurrentInserts(t *testing.T) {
	for _, threads := range []int{5, 10, 64} {
		t.Run(fmt.Sprintf("%d threads", threads), func(t *testing.T) {
			ctx := context.Background()
			r, _ := newRegistry(t, 10)

			var wg sync.WaitGroup
			for i := 0; i < threads; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := r.Insert(ctx, record(fmt.Sprintf("t%d", i)))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			list, err := r.List(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, list, min(threads, 10))

			seen := make(map[string]bool)
			for j, rec := range list {
				assert.False(t, seen[rec.Name], "duplicate %s", rec.Name)
				seen[rec.Name] = true
				if j > 0 {
					assert.False(t, rec.UploadedAt.After(list[j-1].UploadedAt))
				}
			}
		})
	}
}

func TestStorageError_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	backend := new(MockBackend)
	backend.On("PushTrim", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("connection refused"))

	r, err := New(backend, Options{Capacity: 5, RetryAttempts: 3, RetryBackoff: time.Millisecond, Logger: discard})
	require.NoError(t, err)

	_, err = r.Insert(ctx, record("a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	backend.AssertNumberOfCalls(t, "PushTrim", 3)
}

func TestStorageError_RecoversOnRetry(t *testing.T) {
	ctx := context.Background()
	backend := new(MockBackend)
	backend.On("RemoveFirst", mock.Anything, "a").Return(false, errors.New("timeout")).Once()
	backend.On("RemoveFirst", mock.Anything, "a").Return(true, nil).Once()

	r, err := New(backend, Options{Capacity: 5, RetryAttempts: 3, RetryBackoff: time.Millisecond, Logger: discard})
	require.NoError(t, err)

	found, err := r.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	backend.AssertExpectations(t)
}

func TestStorageError_StopsOnCancelledContext(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Range", mock.Anything, 5).Return(nil, errors.New("unavailable"))

	r, err := New(backend, Options{Capacity: 5, RetryAttempts: 10, RetryBackoff: time.Hour, Logger: discard})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.List(ctx, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Less(t, time.Since(start), time.Second)
	backend.AssertNumberOfCalls(t, "Range", 1)
}

func TestOpTimeoutIsApplied(t *testing.T) {
	backend := new(MockBackend)
	backend.On("Clear", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, ok := ctx.Deadline()
		assert.True(t, ok, "backend call must carry a deadline")
	})

	r, err := New(backend, Options{Capacity: 5, OpTimeout: time.Second, Logger: discard})
	require.NoError(t, err)
	require.NoError(t, r.Clear(context.Background()))
}
