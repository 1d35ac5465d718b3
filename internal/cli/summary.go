package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mickamy/queryiq/internal/model"
)

type benchmarkReport struct {
	Summary model.BenchmarkSummary  `json:"summary"`
	Recent  []model.BenchmarkResult `json:"recent"`
}

func newSummaryCmd(a *app) *cobra.Command {
	var (
		recent int
		format string
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize stored benchmark results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			summary, err := st.BenchmarkSummary(ctx)
			if err != nil {
				return err
			}
			rep := benchmarkReport{Summary: summary, Recent: []model.BenchmarkResult{}}
			if recent > 0 {
				results, err := st.BenchmarkResults(ctx, recent)
				if err != nil {
					return err
				}
				if results != nil {
					rep.Recent = results
				}
			}

			w := cmd.OutOrStdout()
			if ok, err := writeStructured(w, format, rep); ok {
				return err
			}
			if format != "table" {
				return fmt.Errorf("unknown format %q (expected table, json or yaml)", format)
			}
			printSummary(w, rep)
			return nil
		},
	}

	cmd.Flags().IntVar(&recent, "recent", 10, "also list this many recent results")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json or yaml")
	return cmd
}

func printSummary(w io.Writer, rep benchmarkReport) {
	s := rep.Summary
	table := newTable(w, "Metric", "Value")
	table.AppendBulk([][]string{
		{"Benchmarks", fmt.Sprintf("%d", s.TotalBenchmarks)},
		{"Successful", fmt.Sprintf("%d", s.SuccessfulBenchmarks)},
		{"Success rate", fmt.Sprintf("%.2f%%", s.SuccessRatePct)},
		{"Avg improvement", fmt.Sprintf("%.2f%%", s.AvgImprovementPct)},
		{"Max improvement", fmt.Sprintf("%.2f%%", s.MaxImprovementPct)},
		{"Time saved", fmt.Sprintf("%.2f ms (%.2f s)", s.TotalTimeSavedMs, s.TotalTimeSavedSec)},
		{"Avg confidence", fmt.Sprintf("%.2f", s.AvgConfidence)},
	})
	table.Render()

	if len(rep.Recent) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	recent := newTable(w, "Created", "Query", "Type", "Original ms", "Optimized ms", "Improvement", "OK")
	for _, r := range rep.Recent {
		ok := "yes"
		if !r.Success {
			ok = "no"
		}
		recent.Append([]string{
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.QueryID,
			r.OptimizationType,
			fmt.Sprintf("%.3f", r.OriginalAvgMs),
			fmt.Sprintf("%.3f", r.OptimizedAvgMs),
			fmt.Sprintf("%.2f%%", r.ImprovementPct),
			ok,
		})
	}
	recent.Render()
}
