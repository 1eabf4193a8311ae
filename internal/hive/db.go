// Package hive is the Hive-side authoritative store for shared tasks: the
// per-project activity log, idempotent node upserts, and optimistic
// concurrency described in spec §4.5. It talks to Postgres via pgx/pgxpool
// with hand-written SQL (sqlc code generation cannot run in this
// environment; the teacher's invoker/internal/db package already wraps
// pgxpool the same way one layer up, via generated queries — this keeps
// the pooling idiom and drops the generation step).
package hive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the Hive's Postgres connection pool.
type DB struct {
	Pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("hive: HIVE_DATABASE_URL is not set")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
