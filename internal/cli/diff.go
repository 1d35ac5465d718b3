package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/diff"
	"github.com/mickamy/queryiq/internal/parser"
)

func newDiffCmd(a *app) *cobra.Command {
	var (
		basePath   string
		targetPath string
		format     string
		outPath    string
		minPct     float64
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Compare two EXPLAIN plans",
		Example: `  queryiq diff --base before.json --target after.json
  queryiq diff --base before.json --target after.json --format json --out diff.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if basePath == "" || targetPath == "" {
				return fmt.Errorf("--base and --target are required")
			}
			base, err := a.loadAnalysis(basePath)
			if err != nil {
				return fmt.Errorf("load base: %w", err)
			}
			target, err := a.loadAnalysis(targetPath)
			if err != nil {
				return fmt.Errorf("load target: %w", err)
			}

			rep, err := diff.Compare(base, target, diff.Options{MinPercentChange: minPct})
			if err != nil {
				return err
			}

			var content []byte
			switch format {
			case "md", "markdown":
				content = []byte(rep.Markdown())
			case "json":
				payload, err := rep.JSON()
				if err != nil {
					return err
				}
				content = append(payload, '\n')
			default:
				return fmt.Errorf("unsupported format %q (expected md or json)", format)
			}

			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(content)
				return err
			}
			return os.WriteFile(outPath, content, 0o644)
		},
	}

	cmd.Flags().StringVar(&basePath, "base", "", "baseline EXPLAIN JSON")
	cmd.Flags().StringVar(&targetPath, "target", "", "target EXPLAIN JSON")
	cmd.Flags().StringVar(&format, "format", "md", "output format: md or json")
	cmd.Flags().StringVar(&outPath, "out", "", "output path (stdout if omitted)")
	cmd.Flags().Float64Var(&minPct, "min-percent", 0, "minimum percent change reported as an insight (default 5)")
	return cmd
}

func (a *app) loadAnalysis(path string) (*analyzer.PlanAnalysis, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	plan, err := parser.ParseJSON(file, parser.Options{MaxDepth: a.cfg.Analysis.MaxPlanDepth})
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(plan.Plan)
}
