package benchmark

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
)

// Session is one dedicated database connection used for a series of timed
// executions.
type Session interface {
	Exec(ctx context.Context, sql string) error
	// Fetch runs sql and reads every row, returning the row count.
	Fetch(ctx context.Context, sql string) (int, error)
	Close(ctx context.Context) error
}

// Dialer opens sessions against the benchmarked database.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// PgxDialer opens a fresh pgx connection per session.
type PgxDialer struct {
	DSN string
}

func (d PgxDialer) Dial(ctx context.Context) (Session, error) {
	conn, err := pgx.Connect(ctx, d.DSN)
	if err != nil {
		return nil, fmt.Errorf("benchmark: connect: %w", err)
	}
	return pgxSession{conn: conn}, nil
}

type pgxSession struct {
	conn *pgx.Conn
}

func (s pgxSession) Exec(ctx context.Context, sql string) error {
	_, err := s.conn.Exec(ctx, sql)
	return err
}

func (s pgxSession) Fetch(ctx context.Context, sql string) (int, error) {
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		if _, err := rows.Values(); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func (s pgxSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// SQLDialer checks out a dedicated connection from a database/sql pool.
type SQLDialer struct {
	DB *sqlx.DB
}

func (d SQLDialer) Dial(ctx context.Context) (Session, error) {
	conn, err := d.DB.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("benchmark: connect: %w", err)
	}
	return sqlSession{conn: conn}, nil
}

type sqlSession struct {
	conn *sqlx.Conn
}

func (s sqlSession) Exec(ctx context.Context, sql string) error {
	_, err := s.conn.ExecContext(ctx, sql)
	return err
}

func (s sqlSession) Fetch(ctx context.Context, sql string) (int, error) {
	rows, err := s.conn.QueryxContext(ctx, sql)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	n := 0
	for rows.Next() {
		if _, err := rows.SliceScan(); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}

func (s sqlSession) Close(context.Context) error {
	return s.conn.Close()
}
