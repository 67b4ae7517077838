package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// gatewayTables are created by db/migrations and must exist before serving.
var gatewayTables = []string{"requests", "responses"}

// Executor is what the request and response repositories run their SQL on:
// the pool outside a transaction, a pgx.Tx inside one.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB holds the pool shared by the request store, the response store and the
// health check.
type DB struct {
	Pool   *pgxpool.Pool
	logger *slog.Logger
}

func Connect(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	logger = logger.With("component", "request_store", "database", cfg.Name)

	pgxCfg, err := cfg.PgxConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("request store config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, fmt.Errorf("request store pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("request store unreachable at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info("request store connected",
		"host", cfg.Host,
		"port", cfg.Port,
		"max_conns", pgxCfg.MaxConns,
		"min_conns", pgxCfg.MinConns,
	)

	return &DB{Pool: pool, logger: logger}, nil
}

// CheckSchema fails when a migration has not been applied, so a fresh
// deployment stops at startup instead of on the first citizen request.
func (db *DB) CheckSchema(ctx context.Context) error {
	var missing []string
	for _, table := range gatewayTables {
		var found *string
		if err := db.Pool.QueryRow(ctx, "SELECT to_regclass($1)::text", table).Scan(&found); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if found == nil {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tables %v: apply db/migrations first", missing)
	}
	return nil
}

// Ping backs the /healthz endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *DB) Close() {
	stat := db.Pool.Stat()
	db.logger.Info("closing request store",
		"acquired_conns", stat.AcquiredConns(),
		"total_conns", stat.TotalConns(),
	)
	db.Pool.Close()
}

// IsUniqueViolation reports a duplicate request or response id.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
