// Package database holds the relational side of the identity
// directory: registered accounts and their ledger addresses. Health
// records never touch Postgres; they live on the ledger.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx connection pool
type DB struct {
	pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection. maxConns
// bounds the pool; the roster query under the consent fan-out is the
// only concurrent reader of any volume.
func New(databaseURL string, maxConns int32) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close releases the connection pool
func (db *DB) Close() {
	db.pool.Close()
}

// Pool exposes the underlying pool for the repository queries
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}
