package postgres

import (
	"context"
	"fmt"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionCoordinator manages transactions across the request and response repositories
type TransactionCoordinator struct {
	pool *pgxpool.Pool
}

func NewTransactionCoordinator(db *DB) *TransactionCoordinator {
	return &TransactionCoordinator{
		pool: db.Pool,
	}
}

// WithTransaction executes fn within a database transaction. The stores it
// receives are bound to that transaction.
func (tc *TransactionCoordinator) WithTransaction(
	ctx context.Context,
	fn func(ctx context.Context, requests application.RequestStore, responses application.ResponseStore) error,
) error {
	tx, err := tc.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	txRequests := &RequestRepository{q: tx}
	txResponses := &ResponseRepository{q: tx}

	if err := fn(ctx, txRequests, txResponses); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
