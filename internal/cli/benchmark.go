package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mickamy/queryiq/internal/benchmark"
	"github.com/mickamy/queryiq/internal/catalog"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/rewrite"
	"github.com/mickamy/queryiq/internal/store"
)

func newBenchmarkCmd(a *app) *cobra.Command {
	var (
		url        string
		queryID    string
		sqlPath    string
		inlineSQL  string
		optimized  string
		confidence float64
		iterations int
		format     string
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark a query against its rewrite",
		Long: `Ask the configured rewrite provider (or take --optimized) for a rewrite of a
stored or inline query, time both versions and store the result. A failed run
is still stored and reported, and the command exits non-zero.`,
		Example: `  queryiq benchmark --query-id 5c1e... --iterations 10
  queryiq benchmark --query "SELECT * FROM orders" --optimized "SELECT id FROM orders"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := a.requireDatabaseURL(url)
			if err != nil {
				return err
			}
			sqlText, err := readSQL(sqlPath, inlineSQL)
			if err != nil {
				return err
			}
			if (queryID == "") == (sqlText == "") {
				return fmt.Errorf("specify exactly one of --query-id or --sql/--query")
			}
			if !cmd.Flags().Changed("iterations") {
				iterations = a.cfg.Benchmark.Iterations
			}
			ctx := cmd.Context()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var log *model.QueryLog
			if queryID != "" {
				log, err = st.GetQueryLog(ctx, queryID)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("query %s not found", queryID)
				}
				if err != nil {
					return err
				}
			} else {
				l := model.NewQueryLog(sqlText)
				if err := st.UpsertQueryLog(ctx, &l); err != nil {
					return err
				}
				log = &l
			}
			suggestions, err := st.SuggestionsForQuery(ctx, log.ID)
			if err != nil {
				return err
			}

			var provider rewrite.Provider
			if optimized != "" {
				provider = rewrite.Static{Query: optimized, Confidence: confidence}
			} else {
				provider, err = rewrite.New(a.cfg.Rewrite, a.logger)
				if err != nil {
					return err
				}
			}

			cat, err := catalog.Open(ctx, dsn, a.cfg.Analysis.DefaultSchema)
			if err != nil {
				return err
			}
			defer func() { _ = cat.Close() }()

			dialer, err := benchmarkDialer(a.cfg.Benchmark.Dialer, dsn, cat)
			if err != nil {
				return err
			}
			engine := benchmark.NewEngine(a.logger, benchmark.Deps{
				Dialer:   dialer,
				Provider: provider,
				Schemas:  cat,
				Tables:   a.newExtractor(nil, nil),
				Store:    st,
				Metrics:  a.metrics,
			}, benchmark.Options{
				FailureSentinelMs: a.cfg.Benchmark.FailureSentinelMs,
				IterationDelay:    a.cfg.Benchmark.IterationDelay,
			})
			result := engine.RunComprehensiveBenchmark(ctx, log, suggestions, iterations)

			w := cmd.OutOrStdout()
			ok, err := writeStructured(w, format, result)
			if !ok {
				if format != "text" {
					return fmt.Errorf("unknown format %q (expected text, json or yaml)", format)
				}
				printBenchmark(w, result)
			}
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("benchmark failed: %s", result.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "PostgreSQL connection string to benchmark against; defaults to database.url")
	cmd.Flags().StringVar(&queryID, "query-id", "", "ID of a stored query")
	cmd.Flags().StringVar(&sqlPath, "sql", "", "path to the SQL file to benchmark")
	cmd.Flags().StringVar(&inlineSQL, "query", "", "inline SQL to benchmark")
	cmd.Flags().StringVar(&optimized, "optimized", "", "rewrite to compare against instead of asking the rewrite provider")
	cmd.Flags().Float64Var(&confidence, "confidence", 1, "confidence recorded for --optimized")
	cmd.Flags().IntVar(&iterations, "iterations", 0, "timed runs per query; defaults to benchmark.iterations")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json or yaml")
	return cmd
}

// benchmarkDialer picks how timing sessions connect: a fresh pgx connection
// per session, or a connection checked out of the catalog's pool.
func benchmarkDialer(kind, dsn string, cat *catalog.Catalog) (benchmark.Dialer, error) {
	switch kind {
	case "", "pgx":
		return benchmark.PgxDialer{DSN: dsn}, nil
	case "pool":
		return benchmark.SQLDialer{DB: cat.DB()}, nil
	default:
		return nil, fmt.Errorf("unknown benchmark.dialer %q (expected pgx or pool)", kind)
	}
}

func printBenchmark(w io.Writer, r *model.BenchmarkResult) {
	_, _ = fmt.Fprintf(w, "Benchmark %s for query %s\n", r.ID, r.QueryID)
	if !r.Success {
		_, _ = fmt.Fprintf(w, "Failed: %s\n", r.ErrorMessage)
		return
	}
	_, _ = fmt.Fprintf(w, "Optimization: %s (confidence %.2f)\n", r.OptimizationType, r.Confidence)
	if r.Explanation != "" {
		_, _ = fmt.Fprintf(w, "Explanation: %s\n", r.Explanation)
	}
	_, _ = fmt.Fprintf(w, "Original:  %s\nOptimized: %s\n", shorten(r.OriginalQuery, 100), shorten(r.OptimizedQuery, 100))

	table := newTable(w, "Variant", "Mean ms", "Median ms", "Stddev ms", "Min ms", "Max ms")
	for _, row := range []struct {
		name  string
		stats model.TimingStats
	}{
		{"original", r.OriginalStats},
		{"optimized", r.OptimizedStats},
	} {
		table.Append([]string{
			row.name,
			fmt.Sprintf("%.3f", row.stats.Mean),
			fmt.Sprintf("%.3f", row.stats.Median),
			fmt.Sprintf("%.3f", row.stats.StdDev),
			fmt.Sprintf("%.3f", row.stats.Min),
			fmt.Sprintf("%.3f", row.stats.Max),
		})
	}
	table.Render()
	_, _ = fmt.Fprintf(w, "Improvement: %.3f ms (%.2f%%)\n", r.ImprovementMs, r.ImprovementPct)
}
