package features

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/model"
)

var errNoStatement = errors.New("no statement")

const bytesPerMB = 1024 * 1024

// Catalog answers per-table questions about the analyzed database. Table
// names are schema qualified.
type Catalog interface {
	HasIndex(ctx context.Context, table string) (bool, error)
	TableSizeBytes(ctx context.Context, table string) (int64, error)
}

// FeatureStore persists feature records.
type FeatureStore interface {
	SaveQueryFeature(ctx context.Context, feature *model.QueryFeature) error
}

// Options tune feature extraction.
type Options struct {
	SlowQueryThresholdMs float64
	DefaultSchema        string
}

// Extractor derives feature sets from SQL text and plan analyses. Catalog and
// store are optional; without them catalog features stay zero and nothing is
// persisted.
type Extractor struct {
	logger  *zap.Logger
	catalog Catalog
	store   FeatureStore
	opts    Options
}

// NewExtractor wires an extractor.
func NewExtractor(logger *zap.Logger, catalog Catalog, store FeatureStore, opts Options) *Extractor {
	if opts.DefaultSchema == "" {
		opts.DefaultSchema = "public"
	}
	return &Extractor{
		logger:  logging.OrNop(logger).Named("features"),
		catalog: catalog,
		store:   store,
		opts:    opts,
	}
}

// ExtractQueryFeatures derives structural features from text. It never
// fails: text the SQL parser rejects is examined with keyword heuristics.
func (e *Extractor) ExtractQueryFeatures(text string) model.QueryFeatures {
	q, err := parseQuery(text)
	if err != nil {
		e.logger.Debug("syntax tree unavailable, using keyword heuristics", zap.Error(err))
	}
	return queryFeatures(text, q)
}

func queryFeatures(text string, q outcome) model.QueryFeatures {
	tables := q.tables()
	f := model.QueryFeatures{
		NumJoins:       q.numJoins(),
		HasSelectStar:  q.hasSelectStar(),
		HasWhereClause: q.hasWhereClause(),
		NumSubqueries:  q.numSubqueries(),
		QueryLength:    len(text),
		NumTables:      len(tables),
		Tables:         tables,
		HasOrderBy:     q.hasOrderBy(),
		HasGroupBy:     q.hasGroupBy(),
		HasHaving:      q.hasHaving(),
		HasLimit:       q.hasLimit(),
		HasDistinct:    q.hasDistinct(),
		HasAggregate:   q.hasAggregate(),
		HasUnion:       q.hasUnion(),
		HasExistsOrIn:  q.hasExistsOrIn(),
		SyntaxTree:     q.syntaxTree(),
	}
	f.ComplexityScore = ComplexityScore(f)
	return f
}

// ComplexityScore weighs query length and structure into [0, 1]. Subqueries
// weigh more than joins.
func ComplexityScore(f model.QueryFeatures) float64 {
	score := float64(f.QueryLength) / 1000
	score += min(float64(f.NumJoins)*0.15, 0.4)
	score += min(float64(f.NumSubqueries)*0.25, 0.5)
	if f.HasAggregate {
		score += 0.08
	}
	if f.HasUnion {
		score += 0.12
	}
	if f.HasExistsOrIn {
		score += 0.08
	}
	return min(score, 1.0)
}

// ExtractPlanFeatures maps a plan analysis onto plan features.
func ExtractPlanFeatures(analysis *analyzer.PlanAnalysis) model.PlanFeatures {
	if analysis == nil {
		return model.PlanFeatures{}
	}
	f := model.PlanFeatures{
		TotalCost:         analysis.TotalCost,
		ActualTime:        model.Value(analysis.ActualTime),
		PlanDepth:         analysis.PlanDepth,
		ScanTypes:         analysis.ScanTypes,
		JoinTypes:         analysis.JoinTypes,
		HasSequentialScan: analysis.HasSequentialScan,
		HasIndexScan:      analysis.HasIndexScan,
		EstimatedRows:     model.Value(analysis.EstimatedRows),
		ActualRows:        model.Value(analysis.ActualRows),
		TablesScanned:     analysis.TablesScanned,
		IndexesUsed:       analysis.IndexesUsed,
	}
	for _, scan := range analysis.ScanTypes {
		if strings.Contains(scan, "Seq Scan") {
			f.NumSequentialScans++
		}
		if strings.Contains(scan, "Index Scan") {
			f.NumIndexScans++
		}
	}
	return f
}

// Extract merges query features with plan features when analysis is set.
func (e *Extractor) Extract(text string, analysis *analyzer.PlanAnalysis) model.FeatureSet {
	set := model.FeatureSet{Query: e.ExtractQueryFeatures(text)}
	if analysis != nil {
		plan := ExtractPlanFeatures(analysis)
		set.Plan = &plan
	}
	return set
}

// CreateQueryFeatures builds the feature record for a collected query: text
// and plan features plus catalog lookups for every scanned table. Lookup
// failures count as zero for that table. Without a catalog the catalog
// features stay unset and CatalogChecked false. The record is persisted when
// a store is configured; a failed write is logged and the record still
// returned.
func (e *Extractor) CreateQueryFeatures(ctx context.Context, log *model.QueryLog, analysis *analyzer.PlanAnalysis) (*model.QueryFeature, error) {
	if log == nil {
		return nil, fmt.Errorf("features: missing query log")
	}

	set := e.Extract(log.QueryText, analysis)
	set.IsSlowQuery = log.MeanExecTime > e.opts.SlowQueryThresholdMs
	if analysis != nil && e.catalog != nil && len(analysis.TablesScanned) > 0 {
		set.IndexedTablesPct, set.AvgTableSizeMB = e.catalogFeatures(ctx, analysis.TablesScanned)
		set.CatalogChecked = true
	}

	feature := &model.QueryFeature{
		ID:         uuid.NewString(),
		QueryID:    log.ID,
		CreatedAt:  time.Now().UTC(),
		FeatureSet: set,
	}

	if e.store != nil {
		if err := e.store.SaveQueryFeature(ctx, feature); err != nil {
			e.logger.Error("persist query features", zap.String("query_id", log.ID), zap.Error(err))
		}
	}
	return feature, nil
}

// catalogFeatures returns the share of tables with at least one index (0-100)
// and their mean size in MB.
func (e *Extractor) catalogFeatures(ctx context.Context, tables []string) (indexedPct, avgSizeMB float64) {
	if e.catalog == nil || len(tables) == 0 {
		return 0, 0
	}

	var indexed int
	var totalBytes int64
	for _, table := range tables {
		name := e.qualify(table)

		ok, err := e.catalog.HasIndex(ctx, name)
		if err != nil {
			e.logger.Warn("index lookup failed", zap.String("table", name), zap.Error(err))
		} else if ok {
			indexed++
		}

		size, err := e.catalog.TableSizeBytes(ctx, name)
		if err != nil {
			e.logger.Warn("table size lookup failed", zap.String("table", name), zap.Error(err))
		} else {
			totalBytes += size
		}
	}

	n := float64(len(tables))
	indexedPct = float64(indexed) / n * 100
	avgSizeMB = float64(totalBytes) / n / bytesPerMB
	return indexedPct, avgSizeMB
}

func (e *Extractor) qualify(table string) string {
	if strings.Contains(table, ".") {
		return table
	}
	return e.opts.DefaultSchema + "." + table
}
