// Package service contains the business logic layer.
//
// This file implements the billing service: the transaction manager that
// commits a plan upgrade as one atomic unit across the user's quota state,
// the subscription ledger, and the payment ledger.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jfenner/hirewell/internal/domain"
	"github.com/jfenner/hirewell/internal/metrics"
	"github.com/jfenner/hirewell/internal/sequence"
	"github.com/jfenner/hirewell/internal/store"
)

// PaymentMethodCard is the only method the payment gateway supplies today.
const PaymentMethodCard = "card"

// =============================================================================
// Interface Definition
// =============================================================================

// BillingService commits plan upgrades.
type BillingService interface {
	// Upgrade moves the user onto planName, recording a subscription row, a
	// completed payment row, and a reset quota state in a single commit.
	// The paymentRef is an opaque, already-verified reference from the
	// payment gateway and acts as an idempotency key: retrying with the same
	// reference returns the originally created subscription without writing
	// anything.
	Upgrade(ctx context.Context, userID uuid.UUID, planName, paymentRef, sessionRef string) (*domain.Subscription, error)
}

// =============================================================================
// Implementation
// =============================================================================

type billingService struct {
	store  store.Store
	seq    *sequence.Allocator
	logger *slog.Logger
}

// NewBillingService creates a new BillingService.
func NewBillingService(st store.Store, seq *sequence.Allocator, logger *slog.Logger) BillingService {
	return &billingService{
		store:  st,
		seq:    seq,
		logger: logger,
	}
}

func (s *billingService) Upgrade(ctx context.Context, userID uuid.UUID, planName, paymentRef, sessionRef string) (*domain.Subscription, error) {
	const op = "billing.upgrade"

	tier, err := domain.TierOf(planName)
	if err != nil {
		metrics.UpgradeFailuresTotal.WithLabelValues("unknown_plan").Inc()
		return nil, err
	}

	// Idempotency on the external payment reference: a retried call after a
	// transient failure must not create a second subscription/payment pair.
	existing, err := s.store.SubscriptionByPaymentRef(ctx, paymentRef)
	if err == nil {
		s.logger.Info("Upgrade replay for known payment reference",
			"user_id", userID,
			"payment_ref", paymentRef,
			"subscription_id", existing.ID,
		)
		return &existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		metrics.UpgradeFailuresTotal.WithLabelValues("storage").Inc()
		return nil, domain.PersistenceFailure(err, op)
	}

	// Abort before allocating IDs or writing anything if the user is gone.
	if _, err := s.store.GetQuota(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.UpgradeFailuresTotal.WithLabelValues("user_not_found").Inc()
			return nil, domain.UserNotFound(op, userID)
		}
		metrics.UpgradeFailuresTotal.WithLabelValues("storage").Inc()
		return nil, domain.PersistenceFailure(err, op)
	}

	subID, err := s.seq.Next(ctx, sequence.PrefixSubscription)
	if err != nil {
		metrics.UpgradeFailuresTotal.WithLabelValues("storage").Inc()
		return nil, domain.PersistenceFailure(err, op)
	}
	payID, err := s.seq.Next(ctx, sequence.PrefixPayment)
	if err != nil {
		metrics.UpgradeFailuresTotal.WithLabelValues("storage").Inc()
		return nil, domain.PersistenceFailure(err, op)
	}

	now := time.Now().UTC()
	startDate := now
	endDate := startDate.Add(tier.Duration)

	sub := domain.Subscription{
		ID:                 subID,
		UserID:             userID,
		PlanName:           tier.Name,
		Amount:             tier.Price,
		StartDate:          startDate,
		EndDate:            endDate,
		Active:             true,
		ExternalSessionRef: sessionRef,
		ExternalPaymentRef: paymentRef,
		CreatedAt:          now,
	}
	pay := domain.Payment{
		ID:                 payID,
		UserID:             userID,
		SubscriptionID:     &sub.ID,
		Amount:             tier.Price,
		Method:             PaymentMethodCard,
		Status:             domain.PaymentStatusCompleted,
		ExternalPaymentRef: paymentRef,
		PaymentDate:        now,
	}

	// The upgrade always restores the full quota and re-anchors the window
	// at the upgrade instant.
	quota := domain.UserQuotaState{
		UserID:       userID,
		PlanName:     tier.Name,
		PlanStart:    startDate,
		UsageCount:   0,
		WindowAnchor: &startDate,
	}
	if tier.Expires() {
		quota.PlanEnd = &endDate
	}

	if err := s.store.ApplyUpgrade(ctx, domain.UpgradeRecord{
		Subscription: sub,
		Payment:      pay,
		QuotaState:   quota,
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.UpgradeFailuresTotal.WithLabelValues("user_not_found").Inc()
			return nil, domain.UserNotFound(op, userID)
		}
		metrics.UpgradeFailuresTotal.WithLabelValues("storage").Inc()
		return nil, domain.PersistenceFailure(err, op)
	}

	metrics.UpgradesTotal.WithLabelValues(tier.Name).Inc()
	s.logger.Info("Plan upgrade committed",
		"user_id", userID,
		"plan", tier.Name,
		"subscription_id", sub.ID,
		"payment_id", pay.ID,
		"payment_ref", paymentRef,
	)
	return &sub, nil
}
