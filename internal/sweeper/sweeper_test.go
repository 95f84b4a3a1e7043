package sweeper

import (
	"context"
	"io"
	"log/slog"
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

func seedUser(t *testing.T, mem *store.Memory, anchorAge time.Duration, used int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	userID := uuid.New()
	require.NoError(t, mem.CreateUser(ctx, userID))
	anchor := time.Now().UTC().Add(-anchorAge)
	err := mem.MutateQuota(ctx, userID, func(q *domain.UserQuotaState) error {
		q.WindowAnchor = &anchor
		q.UsageCount = used
		return nil
	})
	require.NoError(t, err)
	return userID
}

func TestSweeper_ResetsExpiredWindows(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	expired1 := seedUser(t, mem, 31*24*time.Hour, 3)
	expired2 := seedUser(t, mem, 45*24*time.Hour, 1)
	current := seedUser(t, mem, 10*24*time.Hour, 2)

	sw, err := New(mem, DefaultConfig(), testLogger())
	require.NoError(t, err)

	reset, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	for _, id := range []uuid.UUID{expired1, expired2} {
		state, err := mem.GetQuota(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(0), state.UsageCount)
		assert.True(t, state.WindowAnchor.After(time.Now().UTC().Add(-time.Minute)))
	}

	state, err := mem.GetQuota(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.UsageCount, "current windows are left alone")
}

func TestSweeper_SweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedUser(t, mem, 31*24*time.Hour, 3)

	sw, err := New(mem, DefaultConfig(), testLogger())
	require.NoError(t, err)

	reset, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	reset, err = sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reset, "a freshly reset window must not reset again")
}

func TestSweeper_SkipsUsersWithoutWindow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	// A user who never posted has no anchor and nothing to reset.
	userID := uuid.New()
	require.NoError(t, mem.CreateUser(ctx, userID))

	sw, err := New(mem, DefaultConfig(), testLogger())
	require.NoError(t, err)

	reset, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, reset)

	state, err := mem.GetQuota(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, state.WindowAnchor)
}

func TestSweeper_HonorsBatchSize(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for i := 0; i < 5; i++ {
		seedUser(t, mem, 31*24*time.Hour, 1)
	}

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	sw, err := New(mem, cfg, testLogger())
	require.NoError(t, err)

	reset, err := sw.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	// Subsequent sweeps drain the rest.
	total := reset
	for i := 0; i < 3; i++ {
		n, err := sw.Sweep(ctx)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 5, total)
}

func TestSweeper_StartStop(t *testing.T) {
	mem := store.NewMemory()
	seedUser(t, mem, 31*24*time.Hour, 3)

	cfg := DefaultConfig()
	cfg.ShutdownTimeout = 5 * time.Second
	sw, err := New(mem, cfg, testLogger())
	require.NoError(t, err)

	sw.Start(context.Background())
	// The startup sweep runs before the first tick.
	assert.Eventually(t, func() bool {
		users, err := mem.ExpiredWindowUsers(context.Background(), time.Now().UTC().Add(-domain.PlanDuration), 10)
		return err == nil && len(users) == 0
	}, 2*time.Second, 10*time.Millisecond)

	sw.Stop()
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"interval too short", func(c *Config) { c.Interval = time.Second }, "interval"},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, "batch size"},
		{"shutdown timeout too short", func(c *Config) { c.ShutdownTimeout = 0 }, "shutdown timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
