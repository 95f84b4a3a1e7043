// Package domain contains core business types and interfaces.
//
// This file defines the subscription and payment ledger rows written by the
// upgrade transaction, and the combined record the store commits atomically.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the state of a payment ledger row.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Subscription is an append-mostly ledger row recording one plan purchase.
//
// Once written it is immutable except for Active, which a later superseding
// upgrade or an expiry sweep may flip to false. Multiple rows per user form
// the subscription history; at most one is active at a time.
type Subscription struct {
	ID                 string // sequence-allocated, e.g. "SUB000042"
	UserID             uuid.UUID
	PlanName           string
	Amount             Money
	StartDate          time.Time
	EndDate            time.Time
	Active             bool
	ExternalSessionRef string
	ExternalPaymentRef string
	CreatedAt          time.Time
}

// Payment is an append-only ledger row recording money received.
//
// A completed payment corresponds to exactly one successful plan upgrade
// and is never retroactively mutated except to refunded.
type Payment struct {
	ID                 string // sequence-allocated, e.g. "PAY000042"
	UserID             uuid.UUID
	SubscriptionID     *string // nullable: broken if the subscription is later deleted
	Amount             Money
	Method             string
	Status             PaymentStatus
	ExternalPaymentRef string
	PaymentDate        time.Time
	Notes              string
}

// UpgradeRecord bundles the three mutations of a plan upgrade. The store
// commits all of it as one unit or none of it: any previously active
// subscription is deactivated, both ledger rows are written, and the user's
// quota state is replaced.
type UpgradeRecord struct {
	Subscription Subscription
	Payment      Payment
	QuotaState   UserQuotaState
}
