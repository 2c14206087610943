// Package postgres implements the repository interfaces on PostgreSQL
// via pgx. All chunk, job, chat, and tenant state lives here; the
// vector index only mirrors embeddings.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new PostgreSQL connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Ping checks database reachability.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// EnsureSchema creates tables and indexes if they do not exist. The
// statements are idempotent so startup can run them unconditionally.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			persona_name TEXT NOT NULL DEFAULT '',
			personality TEXT NOT NULL DEFAULT '',
			api_key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_api_key_hash ON tenants (api_key_hash)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			source_ref TEXT NOT NULL,
			source_kind TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL,
			chunk_index INT NOT NULL,
			total_chunks INT NOT NULL,
			embedding REAL[],
			extra JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_tenant_source ON chunks (tenant_id, source_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_tenant_created ON chunks (tenant_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS crawl_jobs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			seed_url TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			pages_crawled INT NOT NULL DEFAULT 0,
			chunks_created INT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_tenant_created ON crawl_jobs (tenant_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS chat_sessions (
			tenant_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			messages JSONB NOT NULL DEFAULT '[]',
			last_active TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_last_active ON chat_sessions (last_active)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}
