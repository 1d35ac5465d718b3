package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/model"
)

type suggestionRow struct {
	model.Suggestion
	Position int `db:"position"`
}

// SaveSuggestions inserts suggestions in one transaction. Either all rows
// are written or none are; a suggestion that fails validation rejects the
// whole batch.
func (s *Store) SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	for _, sg := range suggestions {
		if err := sg.Validate(); err != nil {
			return fmt.Errorf("save suggestions: %w", err)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const q = `INSERT INTO suggestions
		(id, query_id, suggestion_type, message, confidence, source, estimated_improvement_ms, implementation_cost, position, created_at)
		VALUES
		(:id, :query_id, :suggestion_type, :message, :confidence, :source, :estimated_improvement_ms, :implementation_cost, :position, :created_at)`

	now := time.Now().UTC()
	for i := range suggestions {
		sg := &suggestions[i]
		if sg.ID == "" {
			sg.ID = uuid.NewString()
		}
		if sg.CreatedAt.IsZero() {
			sg.CreatedAt = now
		}
		row := suggestionRow{Suggestion: *sg, Position: i}
		if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
			return fmt.Errorf("insert suggestion: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit suggestions: %w", err)
	}
	s.logger.Debug("saved suggestions", zap.Int("count", len(suggestions)), zap.String("query_id", suggestions[0].QueryID))
	return nil
}

// SuggestionsForQuery returns the stored suggestions of a query in the order
// they were generated.
func (s *Store) SuggestionsForQuery(ctx context.Context, queryID string) ([]model.Suggestion, error) {
	var out []model.Suggestion
	q := s.db.Rebind(`SELECT id, query_id, suggestion_type, message, confidence, source,
		estimated_improvement_ms, implementation_cost, created_at
		FROM suggestions WHERE query_id = ? ORDER BY created_at, position`)
	if err := s.db.SelectContext(ctx, &out, q, queryID); err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	return out, nil
}
