// Package sweeper runs the periodic batch reset of expired usage windows.
//
// The sweep is a performance and consistency optimization, not a
// correctness requirement: the quota service rolls windows over lazily on
// every read. Sweeping keeps stored counters in line with wall-clock time
// for users who have not been queried in a while, so their first read after
// a long absence is cheap.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jfenner/hirewell/internal/domain"
	"github.com/jfenner/hirewell/internal/metrics"
	"github.com/jfenner/hirewell/internal/store"
)

// Sweeper periodically resets usage windows that have elapsed.
type Sweeper struct {
	store  store.QuotaStore
	config Config
	logger *slog.Logger

	// Synchronization
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Sweeper. It must be started with Start() and stopped with Stop().
func New(st store.QuotaStore, config Config, logger *slog.Logger) (*Sweeper, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Sweeper{
		store:  st,
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins sweeping on the configured interval. The first sweep runs
// immediately so a long-stopped deployment catches up on startup.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("Sweeper started", "interval", s.config.Interval, "batch_size", s.config.BatchSize)
}

// Stop signals the sweeper to stop and waits for an in-flight sweep,
// respecting the configured ShutdownTimeout.
func (s *Sweeper) Stop() {
	s.logger.Info("Stopping sweeper...")
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sweeper stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("Sweeper shutdown timeout exceeded, a sweep may still be running")
	}
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// Sweep runs one batch immediately. Exposed for schedulers that trigger
// sweeps externally instead of using the built-in ticker.
func (s *Sweeper) Sweep(ctx context.Context) (reset int, err error) {
	return s.sweepBatch(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	reset, err := s.sweepBatch(ctx)
	if err != nil {
		s.logger.Error("Sweep failed", "error", err)
		return
	}
	if reset > 0 {
		s.logger.Info("Sweep completed", "windows_reset", reset)
	}
}

func (s *Sweeper) sweepBatch(ctx context.Context) (int, error) {
	metrics.SweeperRunsTotal.Inc()

	cutoff := time.Now().UTC().Add(-domain.PlanDuration)
	users, err := s.store.ExpiredWindowUsers(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired windows: %w", err)
	}

	var reset int
	for _, userID := range users {
		if err := s.resetWindow(ctx, userID); err != nil {
			// One bad user never aborts the batch.
			metrics.SweeperFailuresTotal.Inc()
			s.logger.Error("Failed to reset window", "user_id", userID, "error", err)
			continue
		}
		reset++
	}

	if reset > 0 {
		metrics.SweeperResetsTotal.Add(float64(reset))
	}
	return reset, nil
}

// resetWindow performs the same idempotent rollover as the lazy path: the
// expiry condition is re-checked under the user's lock, so racing with a
// request-path rollover at worst resets an already-reset window to a
// marginally newer anchor on a window that really had expired.
func (s *Sweeper) resetWindow(ctx context.Context, userID uuid.UUID) error {
	return s.store.MutateQuota(ctx, userID, func(q *domain.UserQuotaState) error {
		now := time.Now().UTC()
		if !q.WindowExpired(now) {
			return nil
		}
		q.Rollover(now)
		metrics.QuotaRolloversTotal.WithLabelValues("sweeper").Inc()
		return nil
	})
}
