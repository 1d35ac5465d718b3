package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/queryiq/internal/benchmark"
	"github.com/mickamy/queryiq/internal/catalog"
)

const (
	joinPlan    = "../../samples/orders_join.json"
	indexedPlan = "../../samples/orders_join_indexed.json"
	joinQuery   = "SELECT * FROM orders o JOIN users u ON u.id = o.user_id"
)

// isolate points the store at a fresh SQLite file and clears ambient
// configuration.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("QUERYIQ_CONFIG", "")
	t.Setenv("QUERYIQ_DATABASE_URL", "")
	t.Setenv("QUERYIQ_LOG_LEVEL", "error")
	t.Setenv("QUERYIQ_STORE_DRIVER", "sqlite")
	t.Setenv("QUERYIQ_STORE_DSN", filepath.Join(t.TempDir(), "queryiq.db"))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{version: "v1.2.3"}
	t.Cleanup(a.close)

	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	isolate(t)

	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3\n", out)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "queryiq v1.2.3"), out)
}

func TestDiffMarkdownAndJSON(t *testing.T) {
	isolate(t)

	out, err := execute(t, "diff", "--base", joinPlan, "--target", indexedPlan)
	require.NoError(t, err)
	assert.Contains(t, out, "# queryiq diff")
	assert.Contains(t, out, "- Cost:")

	outPath := filepath.Join(t.TempDir(), "diff.json")
	_, err = execute(t, "diff", "--base", joinPlan, "--target", indexedPlan, "--format", "json", "--out", outPath)
	require.NoError(t, err)
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "summary")
}

func TestDiffRequiresBothPlans(t *testing.T) {
	isolate(t)

	_, err := execute(t, "diff", "--base", joinPlan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--base and --target are required")

	_, err = execute(t, "diff", "--base", joinPlan, "--target", indexedPlan, "--format", "html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestAnalyzePlanPersistsQuery(t *testing.T) {
	isolate(t)

	out, err := execute(t, "analyze", "--plan", joinPlan, "--query", joinQuery, "--format", "json")
	require.NoError(t, err)

	var decoded struct {
		QueryID     string `json:"query_id"`
		Query       string `json:"query"`
		Suggestions []struct {
			Type string `json:"suggestion_type"`
		} `json:"suggestions"`
		Plan struct {
			NodeType string `json:"node_type"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.NotEmpty(t, decoded.QueryID)
	assert.Equal(t, joinQuery, decoded.Query)
	assert.NotEmpty(t, decoded.Plan.NodeType)
	require.NotEmpty(t, decoded.Suggestions)
	assert.Equal(t, "QUERY_REWRITE", decoded.Suggestions[0].Type)

	out, err = execute(t, "queries", "--format", "json")
	require.NoError(t, err)
	var logs []struct {
		ID        string `json:"id"`
		QueryText string `json:"query_text"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, decoded.QueryID, logs[0].ID)
	assert.Equal(t, joinQuery, logs[0].QueryText)
}

func TestAnalyzeTUIWithoutPersisting(t *testing.T) {
	isolate(t)

	out, err := execute(t, "analyze", "--plan", joinPlan, "--query", joinQuery, "--persist=false", "--color", "never")
	require.NoError(t, err)
	assert.Contains(t, out, "Cost hot spot")
	assert.NotContains(t, out, "\x1b[")

	out, err = execute(t, "queries")
	require.NoError(t, err)
	assert.Contains(t, out, "No queries found")
}

func TestAnalyzeYAMLFromTextOnly(t *testing.T) {
	isolate(t)

	out, err := execute(t, "analyze", "--query", "SELECT * FROM orders", "--format", "yaml", "--persist=false")
	require.NoError(t, err)
	assert.Contains(t, out, "query: SELECT * FROM orders\n")
	assert.NotContains(t, out, "node_type")
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	isolate(t)

	_, err := execute(t, "analyze")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--sql, --query or --plan is required")

	_, err = execute(t, "analyze", "--plan", joinPlan, "--format", "pdf", "--persist=false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown format "pdf"`)
}

func TestSummaryEmptyStore(t *testing.T) {
	isolate(t)

	out, err := execute(t, "summary", "--format", "json")
	require.NoError(t, err)
	var decoded struct {
		Summary struct {
			TotalBenchmarks int `json:"total_benchmarks"`
		} `json:"summary"`
		Recent []any `json:"recent"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Zero(t, decoded.Summary.TotalBenchmarks)
	assert.NotNil(t, decoded.Recent)
	assert.Empty(t, decoded.Recent)

	out, err = execute(t, "summary")
	require.NoError(t, err)
	assert.Contains(t, out, "Success rate")
}

func TestCommandsNeedingDatabaseURL(t *testing.T) {
	isolate(t)

	for _, args := range [][]string{
		{"explain", "--query", "SELECT 1"},
		{"collect"},
		{"benchmark", "--query", "SELECT 1"},
	} {
		_, err := execute(t, args...)
		require.Error(t, err, args)
		assert.Contains(t, err.Error(), "--url is required", args)
	}
}

func TestSuggestRejectsNonPositiveLimit(t *testing.T) {
	isolate(t)

	_, err := execute(t, "suggest", "--limit", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit must be positive")
}

func TestSuggestAnalyzesStoredQueries(t *testing.T) {
	isolate(t)

	_, err := execute(t, "analyze", "--plan", joinPlan, "--query", joinQuery, "--format", "json")
	require.NoError(t, err)

	out, err := execute(t, "suggest", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Top suggestion")
	assert.Contains(t, out, "QUERY_REWRITE")
}

func TestInvalidConfigFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "queryiq.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analysis:\n  max_plan_depth: 0\n"), 0o644))

	_, err := execute(t, "--config", path, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_plan_depth")
}

func TestColorEnabled(t *testing.T) {
	var buf bytes.Buffer

	on, err := colorEnabled("always", &buf)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = colorEnabled("never", &buf)
	require.NoError(t, err)
	assert.False(t, on)

	on, err = colorEnabled("auto", &buf)
	require.NoError(t, err)
	assert.False(t, on, "buffers are not terminals")

	_, err = colorEnabled("sometimes", &buf)
	assert.Error(t, err)
}

func TestReadSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1"), 0o644))

	got, err := readSQL(path, "")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got)

	got, err = readSQL("", "SELECT 2")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", got)

	_, err = readSQL(path, "SELECT 2")
	assert.Error(t, err)

	_, err = readSQL(filepath.Join(t.TempDir(), "missing.sql"), "")
	assert.Error(t, err)
}

func TestWriteStructured(t *testing.T) {
	var buf bytes.Buffer

	ok, err := writeStructured(&buf, "table", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, buf.String())

	ok, err = writeStructured(&buf, "yml", map[string]int{"a": 1})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a: 1\n", buf.String())
}

func TestBenchmarkDialer(t *testing.T) {
	cat := catalog.New(nil, "public")

	d, err := benchmarkDialer("pgx", "postgres://localhost/app", cat)
	require.NoError(t, err)
	assert.Equal(t, benchmark.PgxDialer{DSN: "postgres://localhost/app"}, d)

	d, err = benchmarkDialer("pool", "postgres://localhost/app", cat)
	require.NoError(t, err)
	assert.IsType(t, benchmark.SQLDialer{}, d)

	_, err = benchmarkDialer("odbc", "", cat)
	assert.Error(t, err)
}

func TestAnalyzeOfflineSkipsIndexCoverage(t *testing.T) {
	isolate(t)

	out, err := execute(t, "analyze", "--plan", indexedPlan, "--query", joinQuery, "--format", "json", "--persist=false")
	require.NoError(t, err)

	var decoded struct {
		Features struct {
			CatalogChecked bool `json:"catalog_checked"`
		} `json:"features"`
		Suggestions []struct {
			Message string `json:"message"`
		} `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.False(t, decoded.Features.CatalogChecked)
	for _, s := range decoded.Suggestions {
		assert.NotContains(t, s.Message, "of tables have indexes")
	}
}
