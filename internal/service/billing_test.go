package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfenner/hirewell/internal/domain"
	"github.com/jfenner/hirewell/internal/sequence"
	"github.com/jfenner/hirewell/internal/store"
)

func newBillingFixture(t *testing.T) (*store.Memory, BillingService, QuotaService, uuid.UUID) {
	t.Helper()
	mem := store.NewMemory()
	logger := testLogger()
	alloc := sequence.New(mem, logger)
	return mem, NewBillingService(mem, alloc, logger), NewQuotaService(mem, logger), newTestUser(t, mem)
}

func TestBillingService_Upgrade(t *testing.T) {
	ctx := context.Background()
	mem, billing, quota, userID := newBillingFixture(t)

	// Burn the whole free quota first so the reset is observable.
	for i := 0; i < 3; i++ {
		_, err := quota.ConsumeIfAllowed(ctx, userID)
		require.NoError(t, err)
	}

	sub, err := billing.Upgrade(ctx, userID, "Standard", "pi_abc123", "cs_abc123")
	require.NoError(t, err)

	assert.Equal(t, "SUB000001", sub.ID)
	assert.Equal(t, "Standard", sub.PlanName)
	assert.True(t, sub.Active)
	assert.Equal(t, int64(4900), sub.Amount.Amount)
	assert.WithinDuration(t, sub.StartDate.Add(30*24*time.Hour), sub.EndDate, time.Second)

	total, active := mem.SubscriptionCount(userID)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, mem.PaymentCount(userID))

	pay, err := mem.PaymentByID(ctx, "PAY000001")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, pay.Status)
	assert.Equal(t, "pi_abc123", pay.ExternalPaymentRef)
	require.NotNil(t, pay.SubscriptionID)
	assert.Equal(t, sub.ID, *pay.SubscriptionID)

	// Quota is fully restored on the new plan.
	usage, err := quota.Remaining(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "Standard", usage.PlanName)
	assert.Equal(t, int64(0), usage.Used)
	assert.Equal(t, int64(10), usage.Remaining)
}

func TestBillingService_UpgradeDeactivatesPrevious(t *testing.T) {
	ctx := context.Background()
	mem, billing, _, userID := newBillingFixture(t)

	_, err := billing.Upgrade(ctx, userID, "Standard", "pi_first", "")
	require.NoError(t, err)
	sub, err := billing.Upgrade(ctx, userID, "Premium", "pi_second", "")
	require.NoError(t, err)

	total, active := mem.SubscriptionCount(userID)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, active, "only the latest subscription may stay active")

	current, err := mem.ActiveSubscription(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, current.ID)
	assert.Equal(t, "Premium", current.PlanName)
}

func TestBillingService_UpgradeIdempotentOnPaymentRef(t *testing.T) {
	ctx := context.Background()
	mem, billing, _, userID := newBillingFixture(t)

	first, err := billing.Upgrade(ctx, userID, "Premium", "pi_replay", "cs_1")
	require.NoError(t, err)

	// A webhook retry delivers the same payment reference again.
	second, err := billing.Upgrade(ctx, userID, "Premium", "pi_replay", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	total, _ := mem.SubscriptionCount(userID)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, mem.PaymentCount(userID))
}

func TestBillingService_UpgradeUnknownPlan(t *testing.T) {
	ctx := context.Background()
	mem, billing, _, userID := newBillingFixture(t)

	_, err := billing.Upgrade(ctx, userID, "Platinum", "pi_x", "")
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	total, _ := mem.SubscriptionCount(userID)
	assert.Zero(t, total)
}

func TestBillingService_UpgradeUnknownUser(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	logger := testLogger()
	billing := NewBillingService(mem, sequence.New(mem, logger), logger)

	_, err := billing.Upgrade(ctx, uuid.New(), "Premium", "pi_x", "")
	assert.True(t, domain.IsNotFound(err))
}

func TestBillingService_UpgradeAtomicOnStorageFailure(t *testing.T) {
	ctx := context.Background()
	mem, billing, quota, userID := newBillingFixture(t)

	_, err := quota.ConsumeIfAllowed(ctx, userID)
	require.NoError(t, err)
	before, err := mem.GetQuota(ctx, userID)
	require.NoError(t, err)

	mem.SetCommitHook(func() error { return errors.New("disk full") })
	_, err = billing.Upgrade(ctx, userID, "Premium", "pi_fail", "")
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))

	// Nothing was written: no ledger rows, quota state untouched.
	total, _ := mem.SubscriptionCount(userID)
	assert.Zero(t, total)
	assert.Zero(t, mem.PaymentCount(userID))

	after, err := mem.GetQuota(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, before.PlanName, after.PlanName)
	assert.Equal(t, before.UsageCount, after.UsageCount)

	// Clearing the fault lets the same upgrade go through.
	mem.SetCommitHook(nil)
	_, err = billing.Upgrade(ctx, userID, "Premium", "pi_fail", "")
	require.NoError(t, err)
	total, active := mem.SubscriptionCount(userID)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, active)
}

// TestUpgradeLifecycle walks the whole journey: a free user exhausts the
// quota, is denied, upgrades to Premium, and posts without limits.
func TestUpgradeLifecycle(t *testing.T) {
	ctx := context.Background()
	_, billing, quota, userID := newBillingFixture(t)

	for i := 0; i < 3; i++ {
		usage, err := quota.ConsumeIfAllowed(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), usage.Used)
	}

	_, err := quota.ConsumeIfAllowed(ctx, userID)
	require.True(t, domain.IsQuotaExceeded(err))

	sub, err := billing.Upgrade(ctx, userID, "Premium", "pi_lifecycle", "cs_lifecycle")
	require.NoError(t, err)
	assert.True(t, sub.Active)

	// Premium is unlimited: well past the old limit and still allowed.
	for i := 0; i < 20; i++ {
		usage, err := quota.ConsumeIfAllowed(ctx, userID)
		require.NoError(t, err)
		assert.True(t, usage.IsUnlimited)
		assert.Equal(t, int64(domain.Unlimited), usage.Limit)
	}
}
