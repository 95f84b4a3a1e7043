package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jfenner/hirewell/internal/domain"
)

// Memory implements Store in process memory. It is used by tests and by
// local development without a database.
//
// Lock ordering: a user's mutex is always acquired before the store mutex.
type Memory struct {
	mu         sync.Mutex
	users      map[uuid.UUID]*memUser
	subs       map[string]domain.Subscription
	payments   map[string]domain.Payment
	counters   map[string]int64
	commitHook func() error
}

type memUser struct {
	mu    sync.Mutex
	state domain.UserQuotaState
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[uuid.UUID]*memUser),
		subs:     make(map[string]domain.Subscription),
		payments: make(map[string]domain.Payment),
		counters: make(map[string]int64),
	}
}

// SetCommitHook installs a function invoked at the start of every
// ApplyUpgrade commit. A returned error aborts the commit before any
// mutation, which lets tests induce storage failures.
func (m *Memory) SetCommitHook(fn func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitHook = fn
}

func (m *Memory) user(userID uuid.UUID) (*memUser, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	return u, ok
}

// =============================================================================
// QuotaStore
// =============================================================================

func (m *Memory) CreateUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; ok {
		return nil
	}
	now := time.Now().UTC()
	m.users[userID] = &memUser{
		state: domain.UserQuotaState{
			UserID:    userID,
			PlanName:  domain.DefaultPlanName,
			PlanStart: now,
			UpdatedAt: now,
		},
	}
	return nil
}

func (m *Memory) GetQuota(ctx context.Context, userID uuid.UUID) (domain.UserQuotaState, error) {
	u, ok := m.user(userID)
	if !ok {
		return domain.UserQuotaState{}, ErrNotFound
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state, nil
}

func (m *Memory) MutateQuota(ctx context.Context, userID uuid.UUID, fn func(*domain.UserQuotaState) error) error {
	u, ok := m.user(userID)
	if !ok {
		return ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	state := u.state
	if err := fn(&state); err != nil {
		return err
	}
	state.UpdatedAt = time.Now().UTC()
	u.state = state
	return nil
}

func (m *Memory) ExpiredWindowUsers(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error) {
	m.mu.Lock()
	users := make([]*memUser, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	m.mu.Unlock()

	var ids []uuid.UUID
	for _, u := range users {
		u.mu.Lock()
		if u.state.WindowAnchor != nil && !u.state.WindowAnchor.After(cutoff) {
			ids = append(ids, u.state.UserID)
		}
		u.mu.Unlock()
		if int32(len(ids)) >= limit {
			break
		}
	}
	return ids, nil
}

// =============================================================================
// SequenceStore
// =============================================================================

func (m *Memory) NextNumber(ctx context.Context, prefix string, seed SeedFunc) (int64, error) {
	m.mu.Lock()
	if n, ok := m.counters[prefix]; ok {
		n++
		m.counters[prefix] = n
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	// Seed outside the store lock: SeedFunc may call back into the store.
	seedVal, err := seed(ctx, prefix)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have created the counter meanwhile.
	n, ok := m.counters[prefix]
	if !ok {
		n = seedVal
	}
	n++
	m.counters[prefix] = n
	return n, nil
}

// =============================================================================
// BillingStore
// =============================================================================

func (m *Memory) ApplyUpgrade(ctx context.Context, rec domain.UpgradeRecord) error {
	u, ok := m.user(rec.QuotaState.UserID)
	if !ok {
		return ErrNotFound
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitHook != nil {
		if err := m.commitHook(); err != nil {
			return err
		}
	}

	// Past this point every mutation applies; the hook above is the only
	// abort path, so the commit stays all-or-nothing.
	for id, sub := range m.subs {
		if sub.UserID == rec.QuotaState.UserID && sub.Active {
			sub.Active = false
			m.subs[id] = sub
		}
	}
	m.subs[rec.Subscription.ID] = rec.Subscription
	m.payments[rec.Payment.ID] = rec.Payment

	state := rec.QuotaState
	state.UpdatedAt = time.Now().UTC()
	u.state = state
	return nil
}

func (m *Memory) SubscriptionByPaymentRef(ctx context.Context, paymentRef string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		if sub.ExternalPaymentRef == paymentRef {
			return sub, nil
		}
	}
	return domain.Subscription{}, ErrNotFound
}

func (m *Memory) ActiveSubscription(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		if sub.UserID == userID && sub.Active {
			return sub, nil
		}
	}
	return domain.Subscription{}, ErrNotFound
}

func (m *Memory) PaymentByID(ctx context.Context, id string) (domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pay, ok := m.payments[id]
	if !ok {
		return domain.Payment{}, ErrNotFound
	}
	return pay, nil
}

func (m *Memory) HighestLedgerNumber(ctx context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var highest int64
	scan := func(id string) {
		suffix := strings.TrimPrefix(id, prefix)
		if suffix == id {
			return
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err == nil && n > highest {
			highest = n
		}
	}

	switch prefix {
	case "SUB":
		for id := range m.subs {
			scan(id)
		}
	case "PAY":
		for id := range m.payments {
			scan(id)
		}
	}
	return highest, nil
}

// SubscriptionCount returns the total number of subscription rows and how
// many of them are active for the user. Test helper.
func (m *Memory) SubscriptionCount(userID uuid.UUID) (total, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subs {
		if sub.UserID == userID {
			total++
			if sub.Active {
				active++
			}
		}
	}
	return total, active
}

// PaymentCount returns the number of payment rows for the user. Test helper.
func (m *Memory) PaymentCount(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, pay := range m.payments {
		if pay.UserID == userID {
			n++
		}
	}
	return n
}
