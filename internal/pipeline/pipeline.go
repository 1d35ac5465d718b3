package pipeline

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/features"
	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/metrics"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/parser"
	"github.com/mickamy/queryiq/internal/report"
	"github.com/mickamy/queryiq/internal/rules"
)

// Explainer returns the raw EXPLAIN (FORMAT JSON) output for a statement.
type Explainer interface {
	Explain(ctx context.Context, sql string) ([]byte, error)
}

// ExplainFunc adapts a function to Explainer.
type ExplainFunc func(ctx context.Context, sql string) ([]byte, error)

func (f ExplainFunc) Explain(ctx context.Context, sql string) ([]byte, error) {
	return f(ctx, sql)
}

// Options tune the pipeline.
type Options struct {
	MaxPlanDepth int
	// Concurrency bounds AnalyzeAll workers. Defaults to 1.
	Concurrency int
}

// Pipeline runs plan parsing, plan analysis, feature extraction and rule
// evaluation for collected queries.
type Pipeline struct {
	logger    *zap.Logger
	explainer Explainer
	extractor *features.Extractor
	rules     *rules.Engine
	metrics   *metrics.Metrics
	opts      Options
}

// New wires a pipeline. explainer and m may be nil; without an explainer
// queries are analyzed from their text alone.
func New(logger *zap.Logger, explainer Explainer, extractor *features.Extractor, engine *rules.Engine, m *metrics.Metrics, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		logger:    logging.OrNop(logger).Named("pipeline"),
		explainer: explainer,
		extractor: extractor,
		rules:     engine,
		metrics:   m,
		opts:      opts,
	}
}

// Analyze explains log's statement and runs the remaining stages on the
// result. A failed EXPLAIN is logged and the query analyzed without a plan.
func (p *Pipeline) Analyze(ctx context.Context, log *model.QueryLog) (*report.Analysis, error) {
	if log == nil {
		return nil, fmt.Errorf("pipeline: missing query log")
	}

	var raw []byte
	if p.explainer != nil {
		out, err := p.explainer.Explain(ctx, log.QueryText)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			p.logger.Warn("explain failed, analyzing text only", zap.String("query_id", log.ID), zap.Error(err))
		default:
			raw = out
		}
	}
	return p.AnalyzePlan(ctx, log, raw)
}

// AnalyzePlan runs the stages on an EXPLAIN payload captured elsewhere. An
// empty payload analyzes the text alone; a malformed one is an error.
func (p *Pipeline) AnalyzePlan(ctx context.Context, log *model.QueryLog, raw []byte) (*report.Analysis, error) {
	if log == nil {
		return nil, fmt.Errorf("pipeline: missing query log")
	}

	var (
		explain *model.Explain
		summary *analyzer.PlanAnalysis
	)
	if len(bytes.TrimSpace(raw)) > 0 {
		var err error
		explain, err = parser.ParseJSON(bytes.NewReader(raw), parser.Options{MaxDepth: p.opts.MaxPlanDepth})
		if err != nil {
			return nil, fmt.Errorf("pipeline: query %s: %w", log.ID, err)
		}
		summary, err = analyzer.Analyze(explain.Plan)
		if err != nil {
			return nil, fmt.Errorf("pipeline: query %s: %w", log.ID, err)
		}
	}

	feature, err := p.extractor.CreateQueryFeatures(ctx, log, summary)
	if err != nil {
		return nil, fmt.Errorf("pipeline: query %s: %w", log.ID, err)
	}
	suggestions, err := p.rules.GenerateSuggestions(ctx, log, &feature.FeatureSet, summary)
	if err != nil {
		return nil, fmt.Errorf("pipeline: query %s: %w", log.ID, err)
	}
	p.metrics.ObserveSuggestions(suggestions)

	return report.New(log, explain, summary, feature.FeatureSet, suggestions), nil
}

// AnalyzeAll analyzes logs on at most Options.Concurrency goroutines.
// Results keep the order of logs. The first error cancels the remaining
// work and is returned.
func (p *Pipeline) AnalyzeAll(ctx context.Context, logs []model.QueryLog) ([]*report.Analysis, error) {
	out := make([]*report.Analysis, len(logs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i := range logs {
		g.Go(func() error {
			a, err := p.Analyze(gctx, &logs[i])
			if err != nil {
				return err
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.logger.Info("analyzed queries", zap.Int("count", len(out)))
	return out, nil
}
