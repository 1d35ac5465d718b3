package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/model"
)

// SuggestionStore persists generated suggestions.
type SuggestionStore interface {
	SaveSuggestions(ctx context.Context, suggestions []model.Suggestion) error
}

// Options configure the engine.
type Options struct {
	SlowQueryThresholdMs float64
	// MaxSuggestions caps the suggestions kept per query. Rules declared
	// later are dropped once the cap is reached.
	MaxSuggestions int
}

// Engine turns query metrics, features and plan analyses into suggestions.
type Engine struct {
	logger *zap.Logger
	store  SuggestionStore
	opts   Options
}

// NewEngine wires an engine. store may be nil to skip persistence.
func NewEngine(logger *zap.Logger, store SuggestionStore, opts Options) *Engine {
	return &Engine{
		logger: logging.OrNop(logger).Named("rules"),
		store:  store,
		opts:   opts,
	}
}

// GenerateSuggestions evaluates the structure, performance, plan and index
// rules in that order and keeps the first MaxSuggestions results. Output is
// neither deduplicated nor re-ranked. The suggestions are bound to log.ID and
// persisted; a failed write is logged and the suggestions still returned.
func (e *Engine) GenerateSuggestions(ctx context.Context, log *model.QueryLog, features *model.FeatureSet, analysis *analyzer.PlanAnalysis) ([]model.Suggestion, error) {
	if log == nil {
		return nil, fmt.Errorf("rules: missing query log")
	}

	ids, drafts := evaluate(input{
		log:        log,
		features:   features,
		analysis:   analysis,
		slowMeanMs: e.opts.SlowQueryThresholdMs,
	})
	if n := max(e.opts.MaxSuggestions, 0); len(drafts) > n {
		e.logger.Debug("truncating suggestions",
			zap.Int("generated", len(drafts)),
			zap.Int("max", n),
			zap.Stringer("first_dropped", ids[n]),
		)
		ids, drafts = ids[:n], drafts[:n]
	}

	now := time.Now().UTC()
	out := make([]model.Suggestion, 0, len(drafts))
	for _, d := range drafts {
		improvement := d.improvement
		out = append(out, model.Suggestion{
			ID:                     uuid.NewString(),
			QueryID:                log.ID,
			Type:                   d.kind,
			Message:                d.message,
			Confidence:             d.confidence,
			Source:                 model.SourceRuleEngine,
			EstimatedImprovementMs: &improvement,
			ImplementationCost:     d.cost,
			CreatedAt:              now,
		})
	}

	if e.store != nil && len(out) > 0 {
		if err := e.store.SaveSuggestions(ctx, out); err != nil {
			e.logger.Error("persist suggestions", zap.String("query_id", log.ID), zap.Error(err))
		}
	}

	e.logger.Info("generated suggestions",
		zap.String("query_id", log.ID),
		zap.Int("count", len(out)),
		zap.Stringers("rules", ids),
	)
	return out, nil
}
