package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/render/html"
	"github.com/mickamy/queryiq/internal/render/tui"
	"github.com/mickamy/queryiq/internal/report"
	"github.com/mickamy/queryiq/internal/runner"
	"github.com/mickamy/queryiq/internal/store"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		url        string
		sqlPath    string
		inlineSQL  string
		planPath   string
		analyze    bool
		timeout    time.Duration
		format     string
		outPath    string
		title      string
		colorMode  string
		maxDepth   int
		noFeatures bool
		persist    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Explain a query and report features, insights and suggestions",
		Long: `Analyze one statement. The plan comes from --plan (a saved EXPLAIN JSON
document) or from running EXPLAIN against --url. Without either the query is
analyzed from its text alone.`,
		Example: `  queryiq analyze --url "$DATABASE_URL" --query "SELECT * FROM orders WHERE user_id = 42"
  queryiq analyze --sql slow.sql --plan plan.json --format html --out report.html
  queryiq analyze --query "SELECT * FROM orders" --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlText, err := readSQL(sqlPath, inlineSQL)
			if err != nil {
				return err
			}
			if sqlText == "" && planPath == "" {
				return fmt.Errorf("--sql, --query or --plan is required")
			}
			ctx := cmd.Context()

			log := model.NewQueryLog(sqlText)
			var st *store.Store
			if persist {
				st, err = a.openStore(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				if err := st.UpsertQueryLog(ctx, &log); err != nil {
					return err
				}
			}

			dsn := ""
			if planPath == "" {
				dsn = a.databaseURL(url)
			}
			p, cleanup, err := a.newPipeline(ctx, dsn, runner.Options{Timeout: timeout, Analyze: analyze}, st)
			if err != nil {
				return err
			}
			defer cleanup()

			var result *report.Analysis
			if planPath != "" {
				raw, err := os.ReadFile(planPath)
				if err != nil {
					return fmt.Errorf("read plan: %w", err)
				}
				result, err = p.AnalyzePlan(ctx, &log, raw)
				if err != nil {
					return err
				}
			} else {
				result, err = p.Analyze(ctx, &log)
				if err != nil {
					return err
				}
			}

			w, closeOut, err := output(cmd, outPath)
			if err != nil {
				return err
			}
			defer func() { _ = closeOut() }()

			if ok, err := writeStructured(w, format, result); ok {
				return err
			}
			switch format {
			case "tui":
				enabled, err := colorEnabled(colorMode, w)
				if err != nil {
					return err
				}
				return tui.Render(w, result, tui.Options{EnableColor: enabled, MaxDepth: maxDepth, HideFeatures: noFeatures})
			case "html":
				return html.Render(w, result, html.Options{Title: title, IncludeStyles: true})
			default:
				return fmt.Errorf("unknown format %q (expected tui, html, json or yaml)", format)
			}
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "PostgreSQL connection string; defaults to database.url")
	cmd.Flags().StringVar(&sqlPath, "sql", "", "path to the SQL file to analyze")
	cmd.Flags().StringVar(&inlineSQL, "query", "", "inline SQL to analyze")
	cmd.Flags().StringVar(&planPath, "plan", "", "EXPLAIN (FORMAT JSON) output to analyze instead of running EXPLAIN")
	cmd.Flags().BoolVar(&analyze, "analyze", false, "run EXPLAIN ANALYZE (executes the statement)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "EXPLAIN timeout, e.g. 45s")
	cmd.Flags().StringVar(&format, "format", "tui", "output format: tui, html, json or yaml")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (stdout if omitted)")
	cmd.Flags().StringVar(&title, "title", "queryiq report", "report title (html)")
	cmd.Flags().StringVar(&colorMode, "color", "auto", "color tui output: auto, always or never")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "limit plan tree depth (tui)")
	cmd.Flags().BoolVar(&noFeatures, "no-features", false, "hide the feature block (tui)")
	cmd.Flags().BoolVar(&persist, "persist", true, "store the query, its features and suggestions")
	return cmd
}
