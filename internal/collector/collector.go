package collector

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mickamy/queryiq/internal/logging"
	"github.com/mickamy/queryiq/internal/metrics"
	"github.com/mickamy/queryiq/internal/model"
)

const selectSlowStatements = `SELECT s.query, s.calls, s.total_exec_time, s.mean_exec_time,
		COALESCE(r.rolname, '') AS db_user, COALESCE(d.datname, '') AS database_name
	FROM pg_stat_statements s
	LEFT JOIN pg_roles r ON r.oid = s.userid
	LEFT JOIN pg_database d ON d.oid = s.dbid
	WHERE s.mean_exec_time > $1 AND s.query NOT LIKE '%pg_stat_statements%'
	ORDER BY s.mean_exec_time DESC
	LIMIT $2`

// QueryLogStore persists collected queries, deduplicated by hash.
type QueryLogStore interface {
	UpsertQueryLog(ctx context.Context, log *model.QueryLog) error
}

type Options struct {
	SlowQueryThresholdMs float64
	Limit                int
}

// Collector reads slow statements from pg_stat_statements.
type Collector struct {
	db      *sqlx.DB
	store   QueryLogStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options
}

type statementRow struct {
	Query         string  `db:"query"`
	Calls         int64   `db:"calls"`
	TotalExecTime float64 `db:"total_exec_time"`
	MeanExecTime  float64 `db:"mean_exec_time"`
	DBUser        string  `db:"db_user"`
	DatabaseName  string  `db:"database_name"`
}

// Open connects to the monitored database through the pgx driver.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("collector: connect: %w", err)
	}
	return db, nil
}

func New(logger *zap.Logger, db *sqlx.DB, store QueryLogStore, m *metrics.Metrics, opts Options) *Collector {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	return &Collector{
		db:      db,
		store:   store,
		metrics: m,
		logger:  logging.OrNop(logger).Named("collector"),
		opts:    opts,
	}
}

// Collect reads statements whose mean execution time exceeds the threshold,
// slowest first, and upserts each into the store. Statements already stored
// keep their ID and get fresh statistics.
func (c *Collector) Collect(ctx context.Context) ([]model.QueryLog, error) {
	var rows []statementRow
	if err := c.db.SelectContext(ctx, &rows, selectSlowStatements, c.opts.SlowQueryThresholdMs, c.opts.Limit); err != nil {
		return nil, fmt.Errorf("collector: read pg_stat_statements: %w", err)
	}

	logs := make([]model.QueryLog, 0, len(rows))
	for _, row := range rows {
		log := model.NewQueryLog(row.Query)
		log.Calls = row.Calls
		log.TotalExecTime = row.TotalExecTime
		log.MeanExecTime = row.MeanExecTime
		log.DBUser = row.DBUser
		log.DatabaseName = row.DatabaseName

		if c.store != nil {
			if err := c.store.UpsertQueryLog(ctx, &log); err != nil {
				return nil, fmt.Errorf("collector: store %s: %w", log.QueryHash, err)
			}
		}
		logs = append(logs, log)
	}

	c.metrics.ObserveCollected(len(logs))
	c.logger.Info("collected queries", zap.Int("count", len(logs)), zap.Float64("threshold_ms", c.opts.SlowQueryThresholdMs))
	return logs, nil
}

// Schedule runs Collect on the cron spec until ctx is done. Runs never
// overlap; a failed run is logged and the schedule continues.
func (c *Collector) Schedule(ctx context.Context, spec string, after func([]model.QueryLog)) error {
	cl := cronLogger{c.logger.Sugar()}
	cr := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	_, err := cr.AddFunc(spec, func() {
		logs, err := c.Collect(ctx)
		if err != nil {
			c.logger.Error("scheduled collection failed", zap.Error(err))
			return
		}
		if after != nil {
			after(logs)
		}
	})
	if err != nil {
		return fmt.Errorf("collector: schedule %q: %w", spec, err)
	}

	c.logger.Info("collection scheduled", zap.String("spec", spec))
	cr.Start()
	<-ctx.Done()
	<-cr.Stop().Done()
	return nil
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
