package store

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mickamy/queryiq/internal/logging"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists collected queries, features, suggestions and benchmark
// results. It runs on SQLite (driver "sqlite") or PostgreSQL (driver "pgx").
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the result store and applies migrations. A SQLite DSN of
// ":memory:" gives a private in-memory store.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	switch driver {
	case "sqlite", "pgx":
	case "postgres":
		driver = "pgx"
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// one connection keeps an in-memory database alive and serializes writes
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, logger: logging.OrNop(logger).Named("store")}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("%w\nSQL: %s", err, m)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS query_logs (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		query_hash TEXT NOT NULL UNIQUE,
		db_user TEXT NOT NULL DEFAULT '',
		database_name TEXT NOT NULL DEFAULT '',
		total_exec_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		mean_exec_time DOUBLE PRECISION NOT NULL DEFAULT 0,
		calls BIGINT NOT NULL DEFAULT 0,
		collected_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS query_features (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL,
		num_joins INTEGER NOT NULL DEFAULT 0,
		has_select_star BOOLEAN NOT NULL DEFAULT FALSE,
		has_where_clause BOOLEAN NOT NULL DEFAULT FALSE,
		num_subqueries INTEGER NOT NULL DEFAULT 0,
		indexed_tables_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
		avg_table_size_mb DOUBLE PRECISION NOT NULL DEFAULT 0,
		is_slow_query BOOLEAN NOT NULL DEFAULT FALSE,
		complexity_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		feature_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_features_query_id ON query_features (query_id)`,

	`CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL,
		suggestion_type TEXT NOT NULL,
		message TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		estimated_improvement_ms DOUBLE PRECISION,
		implementation_cost TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suggestions_query_id ON suggestions (query_id)`,

	`CREATE TABLE IF NOT EXISTS benchmark_results (
		id TEXT PRIMARY KEY,
		query_id TEXT NOT NULL DEFAULT '',
		original_query TEXT NOT NULL,
		optimized_query TEXT NOT NULL,
		original_times TEXT NOT NULL,
		optimized_times TEXT NOT NULL,
		original_avg_ms DOUBLE PRECISION NOT NULL,
		optimized_avg_ms DOUBLE PRECISION NOT NULL,
		improvement_pct DOUBLE PRECISION NOT NULL,
		improvement_ms DOUBLE PRECISION NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		optimization_type TEXT NOT NULL,
		explanation TEXT NOT NULL DEFAULT '',
		success BOOLEAN NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_benchmark_results_query_id ON benchmark_results (query_id)`,
}
