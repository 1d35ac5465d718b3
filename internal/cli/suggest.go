package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/report"
	"github.com/mickamy/queryiq/internal/runner"
)

func newSuggestCmd(a *app) *cobra.Command {
	var (
		url    string
		user   string
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Analyze stored slow queries and generate suggestions",
		Long: `Analyze the slowest stored queries (or every stored query of --user) and
persist their features and suggestions. Plans are fetched with EXPLAIN when a
database URL is available; otherwise the query text alone is analyzed.`,
		Example: `  queryiq suggest --limit 5
  queryiq suggest --user app_rw --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			ctx := cmd.Context()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var logs []model.QueryLog
			if user != "" {
				logs, err = st.QueriesByUser(ctx, user)
			} else {
				logs, err = st.SlowQueries(ctx, limit)
			}
			if err != nil {
				return err
			}
			if user != "" && len(logs) > limit {
				logs = logs[:limit]
			}

			p, cleanup, err := a.newPipeline(ctx, a.databaseURL(url), runner.Options{}, st)
			if err != nil {
				return err
			}
			defer cleanup()

			results, err := p.AnalyzeAll(ctx, logs)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if ok, err := writeStructured(w, format, results); ok {
				return err
			}
			if format != "table" {
				return fmt.Errorf("unknown format %q (expected table, json or yaml)", format)
			}
			printSuggestions(w, results)
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "PostgreSQL connection string used for EXPLAIN; defaults to database.url")
	cmd.Flags().StringVar(&user, "user", "", "only analyze queries executed by this database role")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of queries to analyze")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json or yaml")
	return cmd
}

func printSuggestions(w io.Writer, results []*report.Analysis) {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w, "No queries found")
		return
	}
	table := newTable(w, "ID", "Mean ms", "Suggestions", "Top suggestion")
	for _, r := range results {
		top := "-"
		if len(r.Suggestions) > 0 {
			s := r.Suggestions[0]
			top = fmt.Sprintf("%s: %s", s.Type, shorten(s.Message, 70))
		}
		table.Append([]string{
			r.QueryID,
			fmt.Sprintf("%.2f", r.MeanExecTimeMs),
			fmt.Sprintf("%d", len(r.Suggestions)),
			top,
		})
	}
	table.Render()
}
