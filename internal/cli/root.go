package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/config"
	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/metrics"
)

// app carries the state shared by every command of one invocation.
type app struct {
	version  string
	cfgFile  string
	logLevel string

	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Execute creates the root command tree and runs it.
func Execute(version string) error {
	a := &app{version: version}
	defer a.close()
	return newRootCmd(a).Execute()
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queryiq",
		Short: "Find, explain and fix slow PostgreSQL queries",
		Long: `queryiq collects slow statements from pg_stat_statements, explains them,
derives query and plan features, turns them into optimization suggestions and
benchmarks rewrites against the original.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.flushMetrics()
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (YAML, JSON or TOML); falls back to $QUERYIQ_CONFIG")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	cmd.AddCommand(
		newAnalyzeCmd(a),
		newExplainCmd(a),
		newCollectCmd(a),
		newSuggestCmd(a),
		newBenchmarkCmd(a),
		newSummaryCmd(a),
		newQueriesCmd(a),
		newDiffCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.metrics = metrics.New()
	return nil
}

func (a *app) flushMetrics() error {
	path := a.cfg.Metrics.TextfilePath
	if path == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		return err
	}
	a.logger.Debug("wrote metrics textfile", zap.String("path", path))
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
