package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mickamy/queryiq/internal/model"
)

// UpsertQueryLog inserts log or, when a query with the same hash exists,
// refreshes its statistics. log.ID is set to the stored row's ID.
func (s *Store) UpsertQueryLog(ctx context.Context, log *model.QueryLog) error {
	if log.QueryHash == "" {
		log.QueryHash = model.HashQuery(log.QueryText)
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CollectedAt.IsZero() {
		log.CollectedAt = time.Now().UTC()
	}

	const q = `INSERT INTO query_logs
		(id, query_text, query_hash, db_user, database_name, total_exec_time, mean_exec_time, calls, collected_at)
		VALUES
		(:id, :query_text, :query_hash, :db_user, :database_name, :total_exec_time, :mean_exec_time, :calls, :collected_at)
		ON CONFLICT (query_hash) DO UPDATE SET
			total_exec_time = excluded.total_exec_time,
			mean_exec_time = excluded.mean_exec_time,
			calls = excluded.calls,
			collected_at = excluded.collected_at`

	if _, err := s.db.NamedExecContext(ctx, q, log); err != nil {
		return fmt.Errorf("upsert query log: %w", err)
	}

	var id string
	if err := s.db.GetContext(ctx, &id, s.db.Rebind(`SELECT id FROM query_logs WHERE query_hash = ?`), log.QueryHash); err != nil {
		return fmt.Errorf("resolve query log id: %w", err)
	}
	log.ID = id
	return nil
}

// GetQueryLog returns the query with the given ID.
func (s *Store) GetQueryLog(ctx context.Context, id string) (*model.QueryLog, error) {
	var log model.QueryLog
	if err := s.db.GetContext(ctx, &log, s.db.Rebind(`SELECT * FROM query_logs WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get query log: %w", err)
	}
	return &log, nil
}

// SlowQueries returns stored queries ordered by mean execution time, slowest
// first.
func (s *Store) SlowQueries(ctx context.Context, limit int) ([]model.QueryLog, error) {
	var logs []model.QueryLog
	q := s.db.Rebind(`SELECT * FROM query_logs ORDER BY mean_exec_time DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &logs, q, limit); err != nil {
		return nil, fmt.Errorf("list slow queries: %w", err)
	}
	return logs, nil
}

// QueriesByUser returns the stored queries executed by a database role,
// slowest first.
func (s *Store) QueriesByUser(ctx context.Context, user string) ([]model.QueryLog, error) {
	var logs []model.QueryLog
	q := s.db.Rebind(`SELECT * FROM query_logs WHERE db_user = ? ORDER BY mean_exec_time DESC`)
	if err := s.db.SelectContext(ctx, &logs, q, user); err != nil {
		return nil, fmt.Errorf("list queries by user: %w", err)
	}
	return logs, nil
}

type featureRow struct {
	ID               string    `db:"id"`
	QueryID          string    `db:"query_id"`
	NumJoins         int       `db:"num_joins"`
	HasSelectStar    bool      `db:"has_select_star"`
	HasWhereClause   bool      `db:"has_where_clause"`
	NumSubqueries    int       `db:"num_subqueries"`
	IndexedTablesPct float64   `db:"indexed_tables_pct"`
	AvgTableSizeMB   float64   `db:"avg_table_size_mb"`
	IsSlowQuery      bool      `db:"is_slow_query"`
	ComplexityScore  float64   `db:"complexity_score"`
	FeatureJSON      string    `db:"feature_json"`
	CreatedAt        time.Time `db:"created_at"`
}

// SaveQueryFeature persists a feature record. The headline features get
// their own columns; the full set is kept as JSON.
func (s *Store) SaveQueryFeature(ctx context.Context, f *model.QueryFeature) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(f.FeatureSet)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	row := featureRow{
		ID:               f.ID,
		QueryID:          f.QueryID,
		NumJoins:         f.Query.NumJoins,
		HasSelectStar:    f.Query.HasSelectStar,
		HasWhereClause:   f.Query.HasWhereClause,
		NumSubqueries:    f.Query.NumSubqueries,
		IndexedTablesPct: f.IndexedTablesPct,
		AvgTableSizeMB:   f.AvgTableSizeMB,
		IsSlowQuery:      f.IsSlowQuery,
		ComplexityScore:  f.Query.ComplexityScore,
		FeatureJSON:      string(raw),
		CreatedAt:        f.CreatedAt,
	}

	const q = `INSERT INTO query_features
		(id, query_id, num_joins, has_select_star, has_where_clause, num_subqueries,
		 indexed_tables_pct, avg_table_size_mb, is_slow_query, complexity_score, feature_json, created_at)
		VALUES
		(:id, :query_id, :num_joins, :has_select_star, :has_where_clause, :num_subqueries,
		 :indexed_tables_pct, :avg_table_size_mb, :is_slow_query, :complexity_score, :feature_json, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert query features: %w", err)
	}
	return nil
}

// LatestQueryFeature returns the most recent feature record for a query.
func (s *Store) LatestQueryFeature(ctx context.Context, queryID string) (*model.QueryFeature, error) {
	var row featureRow
	q := s.db.Rebind(`SELECT * FROM query_features WHERE query_id = ? ORDER BY created_at DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, queryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get query features: %w", err)
	}

	f := &model.QueryFeature{ID: row.ID, QueryID: row.QueryID, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal([]byte(row.FeatureJSON), &f.FeatureSet); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	return f, nil
}
