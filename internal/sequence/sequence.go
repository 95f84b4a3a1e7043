// Package sequence allocates human-readable sequential identifiers for
// ledger records, e.g. "SUB000042" or "PAY000108".
//
// Uniqueness under concurrency is delegated to the store: incrementing the
// counter is a single atomic operation there, never a read-then-write in
// this package.
package sequence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jfenner/hirewell/internal/metrics"
	"github.com/jfenner/hirewell/internal/store"
)

// Entity-type prefixes for the ledgers.
const (
	PrefixSubscription = "SUB"
	PrefixPayment      = "PAY"
)

// width of the zero-padded numeric part. Larger numbers simply grow wider.
const width = 6

// Store is the subset of the persistence surface the allocator needs.
type Store interface {
	NextNumber(ctx context.Context, prefix string, seed store.SeedFunc) (int64, error)
	HighestLedgerNumber(ctx context.Context, prefix string) (int64, error)
}

// Allocator produces unique, strictly increasing identifiers per prefix.
type Allocator struct {
	store  Store
	logger *slog.Logger
}

// New creates an Allocator backed by the given store.
func New(st Store, logger *slog.Logger) *Allocator {
	return &Allocator{
		store:  st,
		logger: logger,
	}
}

// Next returns the next identifier for the prefix. When the counter row
// does not exist yet, it is seeded from the highest number already present
// in the corresponding ledger, so re-deployments over existing data never
// reissue an ID.
func (a *Allocator) Next(ctx context.Context, prefix string) (string, error) {
	n, err := a.store.NextNumber(ctx, prefix, a.seed)
	if err != nil {
		return "", fmt.Errorf("allocate %s id: %w", prefix, err)
	}
	metrics.SequenceAllocationsTotal.WithLabelValues(prefix).Inc()
	return Format(prefix, n), nil
}

func (a *Allocator) seed(ctx context.Context, prefix string) (int64, error) {
	n, err := a.store.HighestLedgerNumber(ctx, prefix)
	if err != nil {
		return 0, err
	}
	a.logger.Info("Seeded sequence counter", "prefix", prefix, "seed", n)
	return n, nil
}

// Format renders an identifier from a prefix and number.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}
