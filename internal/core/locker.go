package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ItemLocker guards one item's idempotency check and the writes that follow it.
// TryLock never blocks waiting for another holder: it returns ErrLockNotObtained instead.
type ItemLocker interface {
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// ItemLockKey identifies the unit the idempotency invariant is scoped to.
func ItemLockKey(orgID, productID uuid.UUID) string {
	return "reorder:" + orgID.String() + ":" + productID.String()
}

type noopLocker struct{}

// NoopLocker performs no locking. Overlapping runs may then race between the open-order
// check and the order insert.
func NoopLocker() ItemLocker { return noopLocker{} }

func (noopLocker) TryLock(context.Context, string) (func(), error) { return func() {}, nil }

type advisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker returns an ItemLocker backed by session-level pg_try_advisory_lock.
// Each held lock pins one pool connection until released.
func NewAdvisoryLocker(pool *pgxpool.Pool) ItemLocker {
	return &advisoryLocker{pool: pool}
}

func (l *advisoryLocker) TryLock(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock %s: %w", key, err)
	}
	if !locked {
		conn.Release()
		return nil, fmt.Errorf("%s: %w", key, ErrLockNotObtained)
	}

	return func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock(hashtext($1))", key)
		conn.Release()
	}, nil
}
