package benchmark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/metrics"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/rewrite"
)

const warmUp = "SELECT 1"

const (
	variantQuery     = "query"
	variantOriginal  = "original"
	variantOptimized = "optimized"
)

// SchemaSource describes tables referenced by the benchmarked query.
type SchemaSource interface {
	TableSchema(ctx context.Context, table string) (model.TableSchema, error)
}

// TableExtractor lists the tables a query reads.
type TableExtractor interface {
	ExtractQueryFeatures(text string) model.QueryFeatures
}

// ResultStore persists benchmark audit records.
type ResultStore interface {
	SaveBenchmarkResult(ctx context.Context, result *model.BenchmarkResult) error
}

// Options configure the measurement protocol.
type Options struct {
	// FailureSentinelMs is recorded for an iteration that fails.
	FailureSentinelMs float64
	// IterationDelay separates consecutive iterations of one query.
	IterationDelay time.Duration
}

// Deps are the engine's collaborators. Only Dialer is required.
type Deps struct {
	Dialer   Dialer
	Provider rewrite.Provider
	Schemas  SchemaSource
	Tables   TableExtractor
	Store    ResultStore
	Metrics  *metrics.Metrics
}

// Engine measures a query against its rewrite.
type Engine struct {
	logger *zap.Logger
	deps   Deps
	opts   Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(logger *zap.Logger, deps Deps, opts Options) *Engine {
	if opts.FailureSentinelMs <= 0 {
		opts.FailureSentinelMs = 10000
	}
	return &Engine{
		logger: logging.OrNop(logger).Named("benchmark"),
		deps:   deps,
		opts:   opts,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// RunComprehensiveBenchmark looks up schemas for the query's tables, asks the
// rewrite provider for an optimized query, benchmarks the original and then
// the rewrite for iterations runs each, and persists the outcome. It always
// returns a result; failures before measurement produce Success=false with
// single zero placeholders for both series.
func (e *Engine) RunComprehensiveBenchmark(ctx context.Context, log *model.QueryLog, suggestions []model.Suggestion, iterations int) *model.BenchmarkResult {
	res, err := e.run(ctx, log, suggestions, iterations)
	if err != nil {
		e.logger.Error("benchmark failed", zap.String("query_id", res.QueryID), zap.Error(err))
		res = failed(res, err)
	} else {
		e.logger.Info("benchmark completed",
			zap.String("query_id", res.QueryID),
			zap.Float64("improvement_pct", res.ImprovementPct),
			zap.Float64("improvement_ms", res.ImprovementMs),
		)
	}

	if e.deps.Store != nil {
		if err := e.deps.Store.SaveBenchmarkResult(ctx, res); err != nil {
			e.logger.Error("persist benchmark result", zap.String("query_id", res.QueryID), zap.Error(err))
		}
	}
	e.deps.Metrics.ObserveBenchmark(res)
	return res
}

func (e *Engine) run(ctx context.Context, log *model.QueryLog, suggestions []model.Suggestion, iterations int) (*model.BenchmarkResult, error) {
	res := &model.BenchmarkResult{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	if log == nil {
		return res, errors.New("missing query log")
	}
	res.QueryID = log.ID
	res.OriginalQuery = log.QueryText
	res.OptimizedQuery = log.QueryText

	if strings.TrimSpace(log.QueryText) == "" {
		return res, errors.New("empty query text")
	}
	if iterations < 1 {
		return res, fmt.Errorf("iterations must be positive, got %d", iterations)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	e.logger.Info("starting benchmark", zap.String("query_id", log.ID), zap.Int("iterations", iterations))

	rw := rewrite.Optimize(ctx, e.deps.Provider, rewrite.Request{
		Query:       log.QueryText,
		Suggestions: suggestions,
		Schemas:     e.tableSchemas(ctx, log.QueryText),
	}, e.logger)
	res.OptimizedQuery = rw.OptimizedQuery
	res.Confidence = rw.Confidence
	res.OptimizationType = rw.OptimizationType
	res.Explanation = rw.Explanation

	res.OriginalTimes = e.measure(ctx, log.QueryText, iterations, variantOriginal)
	res.OptimizedTimes = e.measure(ctx, rw.OptimizedQuery, iterations, variantOptimized)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.OriginalStats = model.Summarize(res.OriginalTimes)
	res.OptimizedStats = model.Summarize(res.OptimizedTimes)
	res.OriginalAvgMs = res.OriginalStats.Mean
	res.OptimizedAvgMs = res.OptimizedStats.Mean
	res.ImprovementMs, res.ImprovementPct = model.Improvement(res.OriginalAvgMs, res.OptimizedAvgMs)
	res.Success = true
	return res, nil
}

// failed resets res to the placeholder shape of a run that never measured.
func failed(res *model.BenchmarkResult, cause error) *model.BenchmarkResult {
	res.OptimizedQuery = res.OriginalQuery
	res.OriginalTimes = []float64{0}
	res.OptimizedTimes = []float64{0}
	res.OriginalStats = model.TimingStats{}
	res.OptimizedStats = model.TimingStats{}
	res.OriginalAvgMs, res.OptimizedAvgMs = 0, 0
	res.ImprovementMs, res.ImprovementPct = 0, 0
	res.Confidence = 0
	res.Success = false
	res.ErrorMessage = cause.Error()
	if res.OptimizationType == "" {
		res.OptimizationType = rewrite.TypeUnknown
	}
	return res
}

// BenchmarkQuery runs query iterations times on one session and returns the
// wall time of each run in milliseconds. A failed run records the failure
// sentinel; if no session can be established every entry is the sentinel.
// The result always has exactly iterations entries.
func (e *Engine) BenchmarkQuery(ctx context.Context, query string, iterations int) []float64 {
	return e.measure(ctx, query, iterations, variantQuery)
}

func (e *Engine) measure(ctx context.Context, query string, iterations int, variant string) []float64 {
	iterations = max(iterations, 0)
	times := make([]float64, 0, iterations)

	sess, err := e.session(ctx)
	if err != nil {
		e.logger.Error("benchmark connection failed", zap.String("variant", variant), zap.Error(err))
		for range iterations {
			e.deps.Metrics.ObserveIteration(variant, e.opts.FailureSentinelMs, false)
		}
		return e.pad(times, iterations)
	}
	defer func() {
		if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("close session", zap.Error(err))
		}
	}()

	for i := range iterations {
		if i > 0 {
			if err := e.sleep(ctx, e.opts.IterationDelay); err != nil {
				e.logger.Warn("benchmark interrupted", zap.Int("iteration", i+1), zap.Error(err))
				return e.pad(times, iterations)
			}
		}

		start := e.now()
		rows, err := sess.Fetch(ctx, query)
		elapsed := float64(e.now().Sub(start)) / float64(time.Millisecond)
		if err != nil {
			e.logger.Warn("iteration failed", zap.String("variant", variant), zap.Int("iteration", i+1), zap.Error(err))
			times = append(times, e.opts.FailureSentinelMs)
			e.deps.Metrics.ObserveIteration(variant, e.opts.FailureSentinelMs, false)
			continue
		}
		e.logger.Debug("iteration",
			zap.String("variant", variant),
			zap.Int("iteration", i+1),
			zap.Float64("ms", elapsed),
			zap.Int("rows", rows),
		)
		times = append(times, elapsed)
		e.deps.Metrics.ObserveIteration(variant, elapsed, true)
	}
	return times
}

func (e *Engine) session(ctx context.Context) (Session, error) {
	if e.deps.Dialer == nil {
		return nil, errors.New("benchmark: no dialer configured")
	}
	sess, err := e.deps.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Exec(ctx, warmUp); err != nil {
		_ = sess.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("benchmark: warm up: %w", err)
	}
	return sess, nil
}

// pad fills times with the failure sentinel up to n entries.
func (e *Engine) pad(times []float64, n int) []float64 {
	for len(times) < n {
		times = append(times, e.opts.FailureSentinelMs)
	}
	return times
}

// tableSchemas resolves column lists for the tables query references. Lookup
// failures and unknown tables are skipped.
func (e *Engine) tableSchemas(ctx context.Context, query string) map[string]model.TableSchema {
	out := map[string]model.TableSchema{}
	if e.deps.Schemas == nil || e.deps.Tables == nil {
		return out
	}
	for _, table := range e.deps.Tables.ExtractQueryFeatures(query).Tables {
		schema, err := e.deps.Schemas.TableSchema(ctx, table)
		if err != nil {
			e.logger.Warn("table schema lookup failed", zap.String("table", table), zap.Error(err))
			continue
		}
		out[table] = schema
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
