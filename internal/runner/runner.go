package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Options customise how EXPLAIN is executed.
type Options struct {
	Timeout time.Duration
	// Analyze executes the statement and collects actual timings and buffer
	// usage. Without it only the planner's estimates are returned.
	Analyze bool
}

// Statement returns the EXPLAIN statement Run sends for sqlStatement.
func Statement(sqlStatement string, opts Options) string {
	query := strings.TrimRight(strings.TrimSpace(sqlStatement), ";")
	if opts.Analyze {
		return fmt.Sprintf("EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) %s", query)
	}
	return fmt.Sprintf("EXPLAIN (FORMAT JSON) %s", query)
}

// Run explains the provided SQL statement and returns the raw JSON plan.
func Run(ctx context.Context, dsn, sqlStatement string, opts Options) ([]byte, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("runner: empty DSN")
	}
	if strings.TrimSpace(sqlStatement) == "" {
		return nil, fmt.Errorf("runner: empty sql statement")
	}

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("runner: connect: %w", err)
	}
	defer func() { _ = conn.Close(context.WithoutCancel(ctx)) }()

	var payload []byte
	if err := conn.QueryRow(ctx, Statement(sqlStatement, opts)).Scan(&payload); err != nil {
		return nil, fmt.Errorf("runner: query: %w", err)
	}
	return payload, nil
}
