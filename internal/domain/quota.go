// Package domain contains core business types and interfaces.
//
// This file defines the per-user quota state: the current plan, the usage
// counter, and the sliding 30-day window it is counted against.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserQuotaState is the mutable quota record embedded in the user aggregate.
//
// A nil WindowAnchor means no window has been started yet; the next quota
// operation starts one. A nil PlanEnd means the plan does not expire.
type UserQuotaState struct {
	UserID       uuid.UUID
	PlanName     string
	PlanStart    time.Time
	PlanEnd      *time.Time
	UsageCount   int64
	WindowAnchor *time.Time
	UpdatedAt    time.Time
}

// WindowExpired reports whether the usage window must be rolled over
// before any read or consume proceeds. An absent anchor counts as expired.
func (q *UserQuotaState) WindowExpired(now time.Time) bool {
	if q.WindowAnchor == nil {
		return true
	}
	return now.Sub(*q.WindowAnchor) >= PlanDuration
}

// Rollover resets the usage counter and re-anchors the window at now.
// Callers re-check WindowExpired first, so a second rollover in immediate
// succession is a no-op.
func (q *UserQuotaState) Rollover(now time.Time) {
	q.UsageCount = 0
	anchor := now
	q.WindowAnchor = &anchor
}

// QuotaUsage is the read model returned to callers asking about remaining
// quota. Remaining is meaningless when IsUnlimited is set.
type QuotaUsage struct {
	PlanName     string
	Used         int64
	Limit        int64
	Remaining    int64
	IsUnlimited  bool
	WindowAnchor *time.Time
	PlanEnd      *time.Time
}
