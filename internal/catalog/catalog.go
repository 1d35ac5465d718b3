package catalog

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/mickamy/queryiq/internal/model"
)

const (
	selectHasIndex = `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = $1 AND tablename = $2)`

	selectTableSize = `SELECT pg_total_relation_size(format('%I.%I', $1::text, $2::text)::regclass)`

	selectColumns = `SELECT column_name, data_type, is_nullable = 'YES' AS nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`
)

// Catalog reads index, size and column metadata from a PostgreSQL system
// catalog. Table names may be schema qualified; bare names resolve against
// the default schema.
type Catalog struct {
	db     *sqlx.DB
	schema string
}

// Open connects to the database at dsn through the pgx driver.
func Open(ctx context.Context, dsn, defaultSchema string) (*Catalog, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	return New(db, defaultSchema), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, defaultSchema string) *Catalog {
	if defaultSchema == "" {
		defaultSchema = "public"
	}
	return &Catalog{db: db, schema: defaultSchema}
}

// DB returns the underlying connection pool.
func (c *Catalog) DB() *sqlx.DB {
	return c.db
}

// Close releases the connection pool.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// HasIndex reports whether at least one index exists on table.
func (c *Catalog) HasIndex(ctx context.Context, table string) (bool, error) {
	schema, name := c.split(table)
	var exists bool
	if err := c.db.GetContext(ctx, &exists, selectHasIndex, schema, name); err != nil {
		return false, fmt.Errorf("catalog: index lookup %s.%s: %w", schema, name, err)
	}
	return exists, nil
}

// TableSizeBytes returns the on-disk size of table including indexes and
// TOAST data.
func (c *Catalog) TableSizeBytes(ctx context.Context, table string) (int64, error) {
	schema, name := c.split(table)
	var size int64
	if err := c.db.GetContext(ctx, &size, selectTableSize, schema, name); err != nil {
		return 0, fmt.Errorf("catalog: size lookup %s.%s: %w", schema, name, err)
	}
	return size, nil
}

// TableSchema returns the ordered columns of table.
func (c *Catalog) TableSchema(ctx context.Context, table string) (model.TableSchema, error) {
	schema, name := c.split(table)
	var columns []model.Column
	if err := c.db.SelectContext(ctx, &columns, selectColumns, schema, name); err != nil {
		return model.TableSchema{}, fmt.Errorf("catalog: columns %s.%s: %w", schema, name, err)
	}
	if len(columns) == 0 {
		return model.TableSchema{}, fmt.Errorf("catalog: table %s.%s not found", schema, name)
	}
	return model.TableSchema{Name: schema + "." + name, Columns: columns}, nil
}

func (c *Catalog) split(table string) (schema, name string) {
	table = strings.ReplaceAll(table, `"`, "")
	if s, n, ok := strings.Cut(table, "."); ok {
		return s, n
	}
	return c.schema, table
}
