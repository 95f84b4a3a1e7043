// Package service contains the business logic layer.
//
// This file implements the quota service: checking, consuming, and rolling
// over the per-user job-post budget on its sliding 30-day window.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jfenner/hirewell/internal/domain"
	"github.com/jfenner/hirewell/internal/metrics"
	"github.com/jfenner/hirewell/internal/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations against a user's job-post quota.
//
// Every operation first rolls the usage window over if it has expired, so
// stored counters are correct even if the batch sweeper never runs.
type QuotaService interface {
	// CanConsume reports whether the user has quota left for one more job
	// post. Store failures fail closed: the caller gets false plus the error.
	CanConsume(ctx context.Context, userID uuid.UUID) (bool, error)

	// Remaining returns the user's current usage against the plan limit.
	Remaining(ctx context.Context, userID uuid.UUID) (*domain.QuotaUsage, error)

	// Consume increments the user's usage counter by one. It does not
	// re-check the limit; callers needing an atomic check-and-consume use
	// ConsumeIfAllowed instead.
	Consume(ctx context.Context, userID uuid.UUID) error

	// ConsumeIfAllowed checks the limit and increments the counter in one
	// critical section per user. Returns QuotaExceeded when the budget is
	// spent, and the post-consume usage otherwise.
	ConsumeIfAllowed(ctx context.Context, userID uuid.UUID) (*domain.QuotaUsage, error)

	// RolloverIfExpired resets the usage window if it has elapsed.
	// Idempotent: a second call in immediate succession is a no-op.
	RolloverIfExpired(ctx context.Context, userID uuid.UUID) error
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store  store.QuotaStore
	logger *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(st store.QuotaStore, logger *slog.Logger) QuotaService {
	return &quotaService{
		store:  st,
		logger: logger,
	}
}

func (s *quotaService) CanConsume(ctx context.Context, userID uuid.UUID) (bool, error) {
	const op = "quota.can_consume"

	var allowed bool
	err := s.store.MutateQuota(ctx, userID, func(q *domain.UserQuotaState) error {
		tier := s.tierOf(q.PlanName)
		s.rollover(q, time.Now().UTC())

		allowed = tier.IsUnlimited() || q.UsageCount < tier.JobPostLimit
		return nil
	})
	if err != nil {
		// Fail closed: a user who cannot be evaluated does not get quota.
		if errors.Is(err, store.ErrNotFound) {
			return false, domain.UserNotFound(op, userID)
		}
		return false, domain.Internal(err, op, "failed to evaluate quota")
	}

	if allowed {
		metrics.QuotaChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
	}
	return allowed, nil
}

func (s *quotaService) Remaining(ctx context.Context, userID uuid.UUID) (*domain.QuotaUsage, error) {
	const op = "quota.remaining"

	var usage *domain.QuotaUsage
	err := s.store.MutateQuota(ctx, userID, func(q *domain.UserQuotaState) error {
		tier := s.tierOf(q.PlanName)
		s.rollover(q, time.Now().UTC())

		usage = buildUsage(q, tier)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.UserNotFound(op, userID)
		}
		return nil, domain.Internal(err, op, "failed to read quota")
	}
	return usage, nil
}

func (s *quotaService) Consume(ctx context.Context, userID uuid.UUID) error {
	const op = "quota.consume"

	err := s.store.MutateQuota(ctx, userID, func(q *domain.UserQuotaState) error {
		s.rollover(q, time.Now().UTC())
		q.UsageCount++
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserNotFound(op, userID)
		}
		return domain.Internal(err, op, "failed to consume quota")
	}

	metrics.JobPostsConsumedTotal.Inc()
	return nil
}

func (s *quotaService) ConsumeIfAllowed(ctx context.Context, userID uuid.UUID) (*domain.QuotaUsage, error) {
	const op = "quota.consume_if_allowed"

	var usage *domain.QuotaUsage
	err := s.store.MutateQuota(ctx, userID, func(q *domain.UserQuotaState) error {
		tier := s.tierOf(q.PlanName)
		s.rollover(q, time.Now().UTC())

		if !tier.IsUnlimited() && q.UsageCount >= tier.JobPostLimit {
			return domain.QuotaExceeded(op, q.PlanName, q.UsageCount, tier.JobPostLimit)
		}
		q.UsageCount++
		usage = buildUsage(q, tier)
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.UserNotFound(op, userID)
		}
		if domain.IsQuotaExceeded(err) {
			metrics.QuotaChecksTotal.WithLabelValues("denied").Inc()
			s.logger.Info("Job post quota exceeded", "user_id", userID)
			return nil, err
		}
		return nil, domain.Internal(err, op, "failed to consume quota")
	}

	metrics.QuotaChecksTotal.WithLabelValues("allowed").Inc()
	metrics.JobPostsConsumedTotal.Inc()
	return usage, nil
}

func (s *quotaService) RolloverIfExpired(ctx context.Context, userID uuid.UUID) error {
	const op = "quota.rollover_if_expired"

	err := s.store.MutateQuota(ctx, userID, func(q *domain.UserQuotaState) error {
		s.rollover(q, time.Now().UTC())
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UserNotFound(op, userID)
		}
		return domain.Internal(err, op, "failed to roll over quota window")
	}
	return nil
}

// rollover resets the window if it has expired. Runs inside the per-user
// critical section of MutateQuota.
func (s *quotaService) rollover(q *domain.UserQuotaState, now time.Time) {
	if !q.WindowExpired(now) {
		return
	}
	q.Rollover(now)
	metrics.QuotaRolloversTotal.WithLabelValues("lazy").Inc()
	s.logger.Debug("Usage window rolled over", "user_id", q.UserID, "anchor", now)
}

// tierOf resolves the tier for a stored plan name, falling back to the
// default tier for names no longer in the catalog.
func (s *quotaService) tierOf(planName string) domain.PlanTier {
	tier, err := domain.TierOf(planName)
	if err != nil {
		s.logger.Warn("Stored plan not in catalog, using default tier", "plan", planName)
		tier, _ = domain.TierOf(domain.DefaultPlanName)
	}
	return tier
}

func buildUsage(q *domain.UserQuotaState, tier domain.PlanTier) *domain.QuotaUsage {
	usage := &domain.QuotaUsage{
		PlanName:     q.PlanName,
		Used:         q.UsageCount,
		Limit:        tier.JobPostLimit,
		IsUnlimited:  tier.IsUnlimited(),
		WindowAnchor: q.WindowAnchor,
		PlanEnd:      q.PlanEnd,
	}
	if !usage.IsUnlimited {
		usage.Remaining = max(0, tier.JobPostLimit-q.UsageCount)
	}
	return usage
}
