package test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mickamy/queryiq/internal/analyzer"
	"github.com/mickamy/queryiq/internal/model"
	"github.com/mickamy/queryiq/internal/parser"
)

var (
	rootPath string
	once     sync.Once
)

// RootPath resolves a path relative to the repository rootPath (where go.mod resides).
func RootPath(t *testing.T) string {
	t.Helper()
	once.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		for {
			if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
				rootPath = wd
				break
			}
			next := filepath.Dir(wd)
			if next == wd {
				t.Fatalf("go.mod not found from %s", wd)
			}
			wd = next
		}
	})
	return rootPath
}

// SamplePath returns the absolute path of a file under samples/.
func SamplePath(t *testing.T, rel string) string {
	t.Helper()
	return filepath.Join(RootPath(t), "samples", rel)
}

// LoadSamplePlan parses a plan relative to the repository samples directory.
func LoadSamplePlan(t *testing.T, rel string) *model.PlanNode {
	t.Helper()
	f, err := os.Open(SamplePath(t, rel))
	if err != nil {
		t.Fatalf("open plan: %v", err)
	}
	defer func() { _ = f.Close() }()

	explain, err := parser.ParseJSON(f, parser.Options{})
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	return explain.Plan
}

// LoadSampleAnalysis loads and analyzes a plan relative to the repository samples directory.
func LoadSampleAnalysis(t *testing.T, rel string) *analyzer.PlanAnalysis {
	t.Helper()
	analysis, err := analyzer.Analyze(LoadSamplePlan(t, rel))
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	return analysis
}
