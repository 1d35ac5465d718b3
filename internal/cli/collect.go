package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/collector"
	"github.com/mickamy/queryiq/internal/insight"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/pipeline"
	"github.com/mickamy/queryiq/internal/runner"
)

func newCollectCmd(a *app) *cobra.Command {
	var (
		url          string
		thresholdMs  float64
		limit        int
		schedule     string
		analyzeAfter bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect slow statements from pg_stat_statements",
		Long: `Read statements whose mean execution time exceeds the slow query threshold
from pg_stat_statements and store them. With --schedule (or
database.collect_schedule) collection repeats on a cron spec until interrupted.`,
		Example: `  queryiq collect --url "$DATABASE_URL" --threshold 500
  queryiq collect --schedule "@every 10m" --analyze`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := a.requireDatabaseURL(url)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("threshold") {
				thresholdMs = a.cfg.Analysis.SlowQueryThresholdMs
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Database.CollectLimit
			}
			if schedule == "" {
				schedule = a.cfg.Database.CollectSchedule
			}
			ctx := cmd.Context()

			db, err := collector.Open(ctx, dsn)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var p *pipeline.Pipeline
			if analyzeAfter {
				var cleanup func()
				p, cleanup, err = a.newPipeline(ctx, dsn, runner.Options{}, st)
				if err != nil {
					return err
				}
				defer cleanup()
			}

			c := collector.New(a.logger, db, st, a.metrics, collector.Options{SlowQueryThresholdMs: thresholdMs, Limit: limit})
			w := cmd.OutOrStdout()

			if schedule == "" {
				logs, err := c.Collect(ctx)
				if err != nil {
					return err
				}
				printQueries(w, logs)
				if p != nil {
					if _, err := p.AnalyzeAll(ctx, logs); err != nil {
						return err
					}
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Schedule(ctx, schedule, func(logs []model.QueryLog) {
				printQueries(w, logs)
				if p != nil {
					if _, err := p.AnalyzeAll(ctx, logs); err != nil && ctx.Err() == nil {
						a.logger.Error("analyze collected queries", zap.Error(err))
					}
				}
				if err := a.flushMetrics(); err != nil {
					a.logger.Warn("flush metrics", zap.Error(err))
				}
			})
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "PostgreSQL connection string; defaults to database.url")
	cmd.Flags().Float64Var(&thresholdMs, "threshold", 0, "minimum mean execution time in ms; defaults to analysis.slow_query_threshold_ms")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum statements per collection; defaults to database.collect_limit")
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron spec for repeated collection, e.g. "@every 10m"`)
	cmd.Flags().BoolVar(&analyzeAfter, "analyze", false, "explain and analyze every collected statement")
	return cmd
}

func printQueries(w io.Writer, logs []model.QueryLog) {
	if len(logs) == 0 {
		_, _ = fmt.Fprintln(w, "No queries found")
		return
	}
	table := newTable(w, "ID", "Mean ms", "Calls", "Total ms", "User", "Query")
	for _, log := range logs {
		table.Append([]string{
			log.ID,
			fmt.Sprintf("%.2f", log.MeanExecTime),
			insight.HumanizeRows(float64(log.Calls)),
			fmt.Sprintf("%.2f", log.TotalExecTime),
			log.DBUser,
			shorten(log.QueryText, 60),
		})
	}
	table.Render()
}
