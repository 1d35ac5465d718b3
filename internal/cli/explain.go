package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mickamy/queryiq/internal/runner"
)

func newExplainCmd(a *app) *cobra.Command {
	var (
		url       string
		sqlPath   string
		inlineSQL string
		outPath   string
		analyze   bool
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Run EXPLAIN (FORMAT JSON) for a query and print the plan",
		Example: `  queryiq explain --url "$DATABASE_URL" --sql slow.sql --out plan.json
  queryiq explain --query "SELECT * FROM orders" --analyze`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn, err := a.requireDatabaseURL(url)
			if err != nil {
				return err
			}
			sqlText, err := readSQL(sqlPath, inlineSQL)
			if err != nil {
				return err
			}
			if sqlText == "" {
				return fmt.Errorf("--sql or --query is required")
			}

			result, err := runner.Run(cmd.Context(), dsn, sqlText, runner.Options{Timeout: timeout, Analyze: analyze})
			if err != nil {
				return err
			}
			pretty, err := indentJSON(result)
			if err != nil {
				return err
			}

			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(pretty)
				return err
			}
			return os.WriteFile(outPath, pretty, 0o644)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "PostgreSQL connection string; defaults to database.url")
	cmd.Flags().StringVar(&sqlPath, "sql", "", "path to the SQL file to EXPLAIN")
	cmd.Flags().StringVar(&inlineSQL, "query", "", "inline SQL to EXPLAIN")
	cmd.Flags().StringVar(&outPath, "out", "", "path to write the resulting JSON (stdout if omitted)")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "run EXPLAIN ANALYZE with BUFFERS (executes the statement)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution timeout, e.g. 45s")
	return cmd
}
