package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/config"
	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/model"
)

const (
	TypeFailed     = "FAILED"
	TypeParseError = "PARSE_ERROR"
	TypeUnknown    = "UNKNOWN"
	TypeManual     = "MANUAL"
)

var errNoProvider = errors.New("no rewrite provider configured")

// Request is what a provider gets to work with.
type Request struct {
	Query       string
	Suggestions []model.Suggestion
	// Schemas maps table names to their columns. It may be empty.
	Schemas map[string]model.TableSchema
}

// Result is a proposed rewrite of Request.Query.
type Result struct {
	OptimizedQuery          string   `json:"optimized_query"`
	OptimizationType        string   `json:"optimization_type"`
	Confidence              float64  `json:"confidence"`
	Explanation             string   `json:"explanation"`
	EstimatedImprovementPct float64  `json:"estimated_improvement_pct"`
	IndexSuggestions        []string `json:"index_suggestions,omitempty"`
	Changes                 []string `json:"changes_made,omitempty"`
}

// Provider proposes a rewrite for a query.
type Provider interface {
	Rewrite(ctx context.Context, req Request) (Result, error)
}

// Optimize asks p for a rewrite. It never fails: a nil provider or a provider
// error yields Fallback, so the caller always benchmarks something.
func Optimize(ctx context.Context, p Provider, req Request, logger *zap.Logger) Result {
	logger = logging.OrNop(logger).Named("rewrite")
	if p == nil {
		return Fallback(req.Query, errNoProvider)
	}

	res, err := p.Rewrite(ctx, req)
	if err != nil {
		logger.Error("rewrite failed", zap.Error(err))
		return Fallback(req.Query, err)
	}
	if strings.TrimSpace(res.OptimizedQuery) == "" {
		res.OptimizedQuery = req.Query
	}
	res.Confidence = clamp(res.Confidence)

	logger.Info("rewrite completed",
		zap.String("type", res.OptimizationType),
		zap.Float64("confidence", res.Confidence),
	)
	return res
}

// Fallback is the result used when no rewrite could be obtained: the
// original query, type FAILED and zero confidence.
func Fallback(query string, cause error) Result {
	return Result{
		OptimizedQuery:   query,
		OptimizationType: TypeFailed,
		Confidence:       0,
		Explanation:      fmt.Sprintf("Optimization failed: %v", cause),
	}
}

// Static returns a rewrite supplied up front, e.g. on the command line.
type Static struct {
	Query      string
	Type       string
	Confidence float64
}

func (s Static) Rewrite(_ context.Context, req Request) (Result, error) {
	if strings.TrimSpace(s.Query) == "" {
		return Result{}, errors.New("static: no rewrite supplied")
	}
	typ := s.Type
	if typ == "" {
		typ = TypeManual
	}
	return Result{
		OptimizedQuery:   s.Query,
		OptimizationType: typ,
		Confidence:       s.Confidence,
		Explanation:      "Rewrite supplied by the user",
	}, nil
}

// New builds the provider named by cfg.Provider. "none" or an empty name
// returns a nil provider, which makes Optimize fall back.
func New(cfg config.RewriteConfig, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, errors.New("rewrite: gemini provider needs rewrite.api_key")
		}
		return NewGemini(GeminiOptions{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Endpoint:          cfg.Endpoint,
			Timeout:           cfg.Timeout,
			RequestsPerMinute: cfg.RequestsPerMinute,
		}, logger), nil
	case "static":
		return nil, errors.New("rewrite: static provider needs a rewrite passed with --optimized")
	default:
		return nil, fmt.Errorf("rewrite: unknown provider %q", cfg.Provider)
	}
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
