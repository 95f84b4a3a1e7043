package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/jfenner/hirewell/internal/domain"
)

// DefaultOpTimeout bounds every store round-trip. On timeout the operation
// is surfaced as failed with no partial effect assumed; callers decide
// whether to retry.
const DefaultOpTimeout = 5 * time.Second

// Postgres implements Store on a pgx connection pool.
//
// Per-user atomicity comes from row locks (SELECT ... FOR UPDATE) held for
// the duration of a read-modify-write transaction. Sequence allocation uses
// a single atomic UPDATE ... RETURNING statement, never a read-then-write.
type Postgres struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

// ConnectPostgres establishes a connection pool with exponential backoff,
// verifies it with a ping, and returns the store.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	var pool *pgxpool.Pool
	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return retry.RetryableError(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return retry.RetryableError(err)
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return NewPostgres(pool), nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:      pool,
		opTimeout: DefaultOpTimeout,
	}
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Healthcheck verifies the pool is reachable.
func (p *Postgres) Healthcheck(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opTimeout)
}

// =============================================================================
// QuotaStore
// =============================================================================

func (p *Postgres) CreateUser(ctx context.Context, userID uuid.UUID) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (id, plan_name, plan_start)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO NOTHING`,
		userID, domain.DefaultPlanName,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const quotaColumns = `id, plan_name, plan_start, plan_end, usage_count, window_anchor, updated_at`

func scanQuota(row pgx.Row) (domain.UserQuotaState, error) {
	var q domain.UserQuotaState
	err := row.Scan(&q.UserID, &q.PlanName, &q.PlanStart, &q.PlanEnd, &q.UsageCount, &q.WindowAnchor, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserQuotaState{}, ErrNotFound
	}
	if err != nil {
		return domain.UserQuotaState{}, fmt.Errorf("scan quota state: %w", err)
	}
	return q, nil
}

func (p *Postgres) GetQuota(ctx context.Context, userID uuid.UUID) (domain.UserQuotaState, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx, `SELECT `+quotaColumns+` FROM users WHERE id = $1`, userID)
	return scanQuota(row)
}

func (p *Postgres) MutateQuota(ctx context.Context, userID uuid.UUID, fn func(*domain.UserQuotaState) error) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock is held until commit, so the check and the write below
	// form one critical section per user.
	row := tx.QueryRow(ctx, `SELECT `+quotaColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID)
	state, err := scanQuota(row)
	if err != nil {
		return err
	}

	if err := fn(&state); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET plan_name = $2, plan_start = $3, plan_end = $4,
		    usage_count = $5, window_anchor = $6, updated_at = now()
		WHERE id = $1`,
		state.UserID, state.PlanName, state.PlanStart, state.PlanEnd,
		state.UsageCount, state.WindowAnchor,
	)
	if err != nil {
		return fmt.Errorf("update quota state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit quota tx: %w", err)
	}
	return nil
}

func (p *Postgres) ExpiredWindowUsers(ctx context.Context, cutoff time.Time, limit int32) ([]uuid.UUID, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
		SELECT id FROM users
		WHERE window_anchor IS NOT NULL AND window_anchor <= $1
		ORDER BY window_anchor
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired windows: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// SequenceStore
// =============================================================================

func (p *Postgres) NextNumber(ctx context.Context, prefix string, seed SeedFunc) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	// Fast path: the counter row exists. A single UPDATE ... RETURNING is
	// atomic; concurrent callers queue on the row lock and each sees a
	// distinct value.
	var n int64
	err := p.pool.QueryRow(ctx, `
		UPDATE sequence_counters SET last_number = last_number + 1
		WHERE prefix = $1
		RETURNING last_number`,
		prefix,
	).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("increment sequence %s: %w", prefix, err)
	}

	// Bootstrap: no counter row yet. Seed from the existing ledger, then
	// upsert. The ON CONFLICT arm covers the race where another caller
	// inserted the row between our UPDATE and INSERT.
	seedVal, err := seed(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("seed sequence %s: %w", prefix, err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO sequence_counters (prefix, last_number)
		VALUES ($1, $2 + 1)
		ON CONFLICT (prefix) DO UPDATE SET last_number = sequence_counters.last_number + 1
		RETURNING last_number`,
		prefix, seedVal,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("bootstrap sequence %s: %w", prefix, err)
	}
	return n, nil
}

// =============================================================================
// BillingStore
// =============================================================================

func (p *Postgres) ApplyUpgrade(ctx context.Context, rec domain.UpgradeRecord) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin upgrade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the user row first so the upgrade serializes against concurrent
	// quota mutations for the same user.
	var exists bool
	err = tx.QueryRow(ctx, `SELECT true FROM users WHERE id = $1 FOR UPDATE`, rec.QuotaState.UserID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE subscriptions SET active = false
		WHERE user_id = $1 AND active`,
		rec.QuotaState.UserID,
	); err != nil {
		return fmt.Errorf("deactivate subscriptions: %w", err)
	}

	sub := rec.Subscription
	if _, err := tx.Exec(ctx, `
		INSERT INTO subscriptions
			(id, user_id, plan_name, amount_cents, currency, start_date, end_date,
			 active, external_session_ref, external_payment_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.UserID, sub.PlanName, sub.Amount.Amount, sub.Amount.Currency,
		sub.StartDate, sub.EndDate, sub.Active, sub.ExternalSessionRef,
		sub.ExternalPaymentRef, sub.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}

	pay := rec.Payment
	if _, err := tx.Exec(ctx, `
		INSERT INTO payments
			(id, user_id, subscription_id, amount_cents, currency, method, status,
			 external_payment_ref, payment_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pay.ID, pay.UserID, pay.SubscriptionID, pay.Amount.Amount, pay.Amount.Currency,
		pay.Method, pay.Status, pay.ExternalPaymentRef, pay.PaymentDate, pay.Notes,
	); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	q := rec.QuotaState
	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET plan_name = $2, plan_start = $3, plan_end = $4,
		    usage_count = $5, window_anchor = $6, updated_at = now()
		WHERE id = $1`,
		q.UserID, q.PlanName, q.PlanStart, q.PlanEnd, q.UsageCount, q.WindowAnchor,
	); err != nil {
		return fmt.Errorf("update quota state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upgrade tx: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, user_id, plan_name, amount_cents, currency, start_date, end_date,
	active, external_session_ref, external_payment_ref, created_at`

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.PlanName, &s.Amount.Amount, &s.Amount.Currency,
		&s.StartDate, &s.EndDate, &s.Active, &s.ExternalSessionRef,
		&s.ExternalPaymentRef, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, ErrNotFound
	}
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}
	return s, nil
}

func (p *Postgres) SubscriptionByPaymentRef(ctx context.Context, paymentRef string) (domain.Subscription, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_payment_ref = $1`,
		paymentRef,
	)
	return scanSubscription(row)
}

func (p *Postgres) ActiveSubscription(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	row := p.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 AND active`,
		userID,
	)
	return scanSubscription(row)
}

func (p *Postgres) PaymentByID(ctx context.Context, id string) (domain.Payment, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var pay domain.Payment
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, subscription_id, amount_cents, currency, method, status,
		       external_payment_ref, payment_date, notes
		FROM payments WHERE id = $1`,
		id,
	).Scan(&pay.ID, &pay.UserID, &pay.SubscriptionID, &pay.Amount.Amount, &pay.Amount.Currency,
		&pay.Method, &pay.Status, &pay.ExternalPaymentRef, &pay.PaymentDate, &pay.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Payment{}, ErrNotFound
	}
	if err != nil {
		return domain.Payment{}, fmt.Errorf("scan payment: %w", err)
	}
	return pay, nil
}

func (p *Postgres) HighestLedgerNumber(ctx context.Context, prefix string) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	var table string
	switch prefix {
	case "SUB":
		table = "subscriptions"
	case "PAY":
		table = "payments"
	default:
		return 0, nil
	}

	pattern := `^` + prefix + `(\d+)$`
	var n int64
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX((substring(id from $1))::bigint), 0) FROM `+table+` WHERE id LIKE $2`,
		pattern, prefix+"%",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("scan highest ledger number: %w", err)
	}
	return n, nil
}
