// Package store provides persistence for quota state, the subscription and
// payment ledgers, and the sequence counters.
//
// Two implementations exist: Postgres (production) and an in-memory store
// used by tests. Both honor the same atomicity contract: MutateQuota holds
// a per-user exclusive lock for the whole read-modify-write span,
// NextNumber is serialized per prefix, and ApplyUpgrade commits all of its
// records or none of them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jfenner/hirewell/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// Services map it onto the domain error taxonomy.
var ErrNotFound = errors.New("store: not found")

// SeedFunc supplies the initial counter value for a prefix whose counter
// row does not exist yet. It is consulted at most once per prefix lifetime.
type SeedFunc func(ctx context.Context, prefix string) (int64, error)

// QuotaStore persists per-user quota state.
type QuotaStore interface {
	// CreateUser inserts a user with the default plan and no usage window.
	CreateUser(ctx context.Context, userID uuid.UUID) error

	// GetQuota returns the user's current quota state.
	GetQuota(ctx context.Context, userID uuid.UUID) (domain.UserQuotaState, error)

	// MutateQuota loads the user's quota state, applies fn, and persists the
	// result, holding the user's exclusive lock across the whole span. If fn
	// returns an error nothing is persisted and the error is returned.
	MutateQuota(ctx context.Context, userID uuid.UUID, fn func(*domain.UserQuotaState) error) error

	// ExpiredWindowUsers returns up to limit users whose window anchor is
	// present and at or before cutoff.
	ExpiredWindowUsers(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error)
}

// SequenceStore allocates monotonically increasing numbers per prefix.
type SequenceStore interface {
	// NextNumber atomically increments and returns the counter for prefix.
	// When no counter row exists, seed supplies the starting point and the
	// first value returned is seed+1. No two callers ever observe the same
	// number for the same prefix.
	NextNumber(ctx context.Context, prefix string, seed SeedFunc) (int64, error)
}

// BillingStore persists the subscription and payment ledgers.
type BillingStore interface {
	// ApplyUpgrade commits a plan upgrade as one unit: any active
	// subscription for the user is deactivated, the new subscription and
	// payment rows are written, and the user's quota state is replaced.
	ApplyUpgrade(ctx context.Context, rec domain.UpgradeRecord) error

	// SubscriptionByPaymentRef looks up a subscription by its external
	// payment reference. Returns ErrNotFound when none exists.
	SubscriptionByPaymentRef(ctx context.Context, paymentRef string) (domain.Subscription, error)

	// ActiveSubscription returns the user's active subscription, or
	// ErrNotFound when the user has none.
	ActiveSubscription(ctx context.Context, userID uuid.UUID) (domain.Subscription, error)

	// PaymentByID returns a payment ledger row by its allocated ID.
	PaymentByID(ctx context.Context, id string) (domain.Payment, error)

	// HighestLedgerNumber returns the highest numeric suffix among existing
	// ledger IDs for the prefix, or 0 when the ledger is empty. Used to seed
	// a missing sequence counter.
	HighestLedgerNumber(ctx context.Context, prefix string) (int64, error)
}

// Store is the full persistence surface used by the services.
type Store interface {
	QuotaStore
	SequenceStore
	BillingStore
}
