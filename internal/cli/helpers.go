package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mickamy/queryiq/internal/catalog"
	"github.com/mickamy/queryiq/internal/features"
	"github.com/mickamy/queryiq/internal/insight"
	"github.com/mickamy/queryiq/internal/pipeline"
	"github.com/mickamy/queryiq/internal/report"
	"github.com/mickamy/queryiq/internal/rules"
	"github.com/mickamy/queryiq/internal/runner"
	"github.com/mickamy/queryiq/internal/store"
)

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.Store.Driver, a.cfg.Store.DSN, a.logger)
}

// databaseURL prefers the --url flag, then database.url from the config.
func (a *app) databaseURL(flag string) string {
	if url := strings.TrimSpace(flag); url != "" {
		return url
	}
	return strings.TrimSpace(a.cfg.Database.URL)
}

func (a *app) requireDatabaseURL(flag string) (string, error) {
	url := a.databaseURL(flag)
	if url == "" {
		return "", fmt.Errorf("--url is required or set database.url / $QUERYIQ_DATABASE_URL")
	}
	return url, nil
}

func (a *app) newExtractor(cat *catalog.Catalog, st *store.Store) *features.Extractor {
	var c features.Catalog
	if cat != nil {
		c = cat
	}
	var fs features.FeatureStore
	if st != nil {
		fs = st
	}
	return features.NewExtractor(a.logger, c, fs, features.Options{
		SlowQueryThresholdMs: a.cfg.Analysis.SlowQueryThresholdMs,
		DefaultSchema:        a.cfg.Analysis.DefaultSchema,
	})
}

// newPipeline wires the analysis stages. With a database URL plans come from
// EXPLAIN and catalog features from the live catalog; the returned cleanup
// closes that connection.
func (a *app) newPipeline(ctx context.Context, url string, explain runner.Options, st *store.Store) (*pipeline.Pipeline, func(), error) {
	var (
		cat       *catalog.Catalog
		explainer pipeline.Explainer
		cleanup   = func() {}
	)
	if url != "" {
		var err error
		cat, err = catalog.Open(ctx, url, a.cfg.Analysis.DefaultSchema)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = cat.Close() }
		explainer = pipeline.ExplainFunc(func(ctx context.Context, sql string) ([]byte, error) {
			return runner.Run(ctx, url, sql, explain)
		})
	}

	var ss rules.SuggestionStore
	if st != nil {
		ss = st
	}
	engine := rules.NewEngine(a.logger, ss, rules.Options{
		SlowQueryThresholdMs: a.cfg.Analysis.SlowQueryThresholdMs,
		MaxSuggestions:       a.cfg.Analysis.MaxSuggestionsPerQuery,
	})
	p := pipeline.New(a.logger, explainer, a.newExtractor(cat, st), engine, a.metrics, pipeline.Options{
		MaxPlanDepth: a.cfg.Analysis.MaxPlanDepth,
		Concurrency:  a.cfg.Analysis.Concurrency,
	})
	return p, cleanup, nil
}

// output returns the destination for a command: the --out file when set,
// otherwise the command's stdout.
func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return file, file.Close, nil
}

// colorEnabled resolves --color=auto|always|never. auto colors terminals
// unless $NO_COLOR is set.
func colorEnabled(mode string, w io.Writer) (bool, error) {
	switch mode {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "", "auto":
		if os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("unknown --color %q (expected auto, always or never)", mode)
	}
}

// writeStructured emits v as JSON or YAML; ok is false for other formats.
func writeStructured(w io.Writer, format string, v any) (ok bool, err error) {
	switch format {
	case "json":
		return true, report.WriteJSON(w, v)
	case "yaml", "yml":
		return true, report.WriteYAML(w, v)
	default:
		return false, nil
	}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}

func readSQL(path, inline string) (string, error) {
	switch {
	case path != "" && inline != "":
		return "", fmt.Errorf("specify only one of --sql or --query")
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read sql file: %w", err)
		}
		return string(data), nil
	default:
		return inline, nil
	}
}

func indentJSON(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return nil, fmt.Errorf("indent json: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func shorten(s string, n int) string {
	return insight.Truncate(insight.NormalizeWhitespace(s), n)
}
