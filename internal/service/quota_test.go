package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfenner/hirewell/internal/domain"
	"github.com/jfenner/hirewell/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestUser(t *testing.T, mem *store.Memory) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	require.NoError(t, mem.CreateUser(context.Background(), userID))
	return userID
}

// setWindowAnchor backdates the user's window anchor, simulating elapsed time.
func setWindowAnchor(t *testing.T, mem *store.Memory, userID uuid.UUID, anchor time.Time, used int64) {
	t.Helper()
	err := mem.MutateQuota(context.Background(), userID, func(q *domain.UserQuotaState) error {
		q.WindowAnchor = &anchor
		q.UsageCount = used
		return nil
	})
	require.NoError(t, err)
}

func TestQuotaService_ConsumeUpToLimit(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewQuotaService(mem, testLogger())
	userID := newTestUser(t, mem)

	// Normal tier allows 3 posts per window.
	for i := 0; i < 3; i++ {
		ok, err := svc.CanConsume(ctx, userID)
		require.NoError(t, err)
		assert.True(t, ok, "post %d should be allowed", i+1)
		require.NoError(t, svc.Consume(ctx, userID))
	}

	ok, err := svc.CanConsume(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok, "fourth post should be denied")

	usage, err := svc.Remaining(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage.Used)
	assert.Equal(t, int64(0), usage.Remaining)
	assert.False(t, usage.IsUnlimited)
}

func TestQuotaService_ConsumeIfAllowed_Concurrent(t *testing.T) {
	const consumers = 50

	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewQuotaService(mem, testLogger())
	userID := newTestUser(t, mem)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, denied int

	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConsumeIfAllowed(ctx, userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case domain.IsQuotaExceeded(err):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Exactly the limit succeeds, never more, even under concurrency.
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, consumers-3, denied)

	state, err := mem.GetQuota(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.UsageCount)
}

func TestQuotaService_WindowBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("29 days 23 hours old window is still current", func(t *testing.T) {
		mem := store.NewMemory()
		svc := NewQuotaService(mem, testLogger())
		userID := newTestUser(t, mem)

		anchor := time.Now().UTC().Add(-(29*24 + 23) * time.Hour)
		setWindowAnchor(t, mem, userID, anchor, 3)

		ok, err := svc.CanConsume(ctx, userID)
		require.NoError(t, err)
		assert.False(t, ok, "usage must not reset before 30 days")

		state, err := mem.GetQuota(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), state.UsageCount)
		assert.True(t, state.WindowAnchor.Equal(anchor))
	})

	t.Run("30 day old window rolls over on next check", func(t *testing.T) {
		mem := store.NewMemory()
		svc := NewQuotaService(mem, testLogger())
		userID := newTestUser(t, mem)

		anchor := time.Now().UTC().Add(-30 * 24 * time.Hour)
		setWindowAnchor(t, mem, userID, anchor, 3)

		ok, err := svc.CanConsume(ctx, userID)
		require.NoError(t, err)
		assert.True(t, ok, "expired window must reset before the check")

		state, err := mem.GetQuota(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), state.UsageCount)
		assert.True(t, state.WindowAnchor.After(anchor))
	})
}

func TestQuotaService_RolloverIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewQuotaService(mem, testLogger())
	userID := newTestUser(t, mem)

	anchor := time.Now().UTC().Add(-31 * 24 * time.Hour)
	setWindowAnchor(t, mem, userID, anchor, 2)

	require.NoError(t, svc.RolloverIfExpired(ctx, userID))
	first, err := mem.GetQuota(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), first.UsageCount)

	// Second call with no elapsed time changes nothing.
	require.NoError(t, svc.RolloverIfExpired(ctx, userID))
	second, err := mem.GetQuota(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.UsageCount)
	assert.True(t, second.WindowAnchor.Equal(*first.WindowAnchor))
}

func TestQuotaService_MissingUserFailsClosed(t *testing.T) {
	ctx := context.Background()
	svc := NewQuotaService(store.NewMemory(), testLogger())

	ok, err := svc.CanConsume(ctx, uuid.New())
	assert.False(t, ok)
	assert.True(t, domain.IsNotFound(err))

	err = svc.Consume(ctx, uuid.New())
	assert.True(t, domain.IsNotFound(err))

	_, err = svc.Remaining(ctx, uuid.New())
	assert.True(t, domain.IsNotFound(err))
}

func TestQuotaService_FirstCheckStartsWindow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewQuotaService(mem, testLogger())
	userID := newTestUser(t, mem)

	// New users have no anchor until the first quota operation.
	state, err := mem.GetQuota(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, state.WindowAnchor)

	ok, err := svc.CanConsume(ctx, userID)
	require.NoError(t, err)
	assert.True(t, ok)

	state, err = mem.GetQuota(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, state.WindowAnchor)
}
