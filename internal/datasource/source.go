// Package datasource exposes relational data to the chat tools through one
// explicit capability: list tables, describe columns, run a statement.
package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/logging"
)

// Column is one column as declared by the database
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Source is an open data source handle
type Source interface {
	Dialect() Dialect
	ListTables(ctx context.Context) ([]string, error)
	DescribeColumns(ctx context.Context, table string) ([]Column, error)
	Query(ctx context.Context, stmt string) (*frame.Frame, error)
	QuoteIdent(name string) string
	Close() error
}

// Dialect captures the per-engine differences in quoting and introspection
type Dialect struct {
	Name   string
	Driver string

	quote        func(string) string
	listTables   string
	describe     string
	describeArgs func(table string) []any
}

func doubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func backtick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func tableArg(table string) []any { return []any{table} }

var (
	DuckDB = Dialect{
		Name:   "duckdb",
		Driver: "duckdb",
		quote:  doubleQuote,
		listTables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() ORDER BY table_name`,
		describe: `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ? ORDER BY ordinal_position`,
		describeArgs: tableArg,
	}

	Postgres = Dialect{
		Name:   "postgres",
		Driver: "postgres",
		quote:  doubleQuote,
		listTables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name`,
		describe: `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`,
		describeArgs: tableArg,
	}

	MySQL = Dialect{
		Name:   "mysql",
		Driver: "mysql",
		quote:  backtick,
		listTables: `SELECT table_name FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name`,
		describe: `SELECT column_name, column_type FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`,
		describeArgs: tableArg,
	}

	SQLite = Dialect{
		Name:   "sqlite",
		Driver: "sqlite",
		quote:  doubleQuote,
		listTables: `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
		describe:     `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`,
		describeArgs: tableArg,
	}
)

// SQLSource is a Source backed by database/sql
type SQLSource struct {
	db      *sql.DB
	dialect Dialect
	label   string
}

// NewSQLSource wraps an open database. label names the source in logs.
func NewSQLSource(db *sql.DB, dialect Dialect, label string) *SQLSource {
	return &SQLSource{db: db, dialect: dialect, label: label}
}

// DB returns the underlying connection pool
func (s *SQLSource) DB() *sql.DB {
	return s.db
}

// Dialect returns the engine dialect
func (s *SQLSource) Dialect() Dialect {
	return s.dialect
}

// Label describes the source for display
func (s *SQLSource) Label() string {
	return s.label
}

// QuoteIdent quotes a table or column name for this engine
func (s *SQLSource) QuoteIdent(name string) string {
	return s.dialect.quote(name)
}

// ListTables returns the user tables in name order
func (s *SQLSource) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.listTables)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}

		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	return tables, nil
}

// DescribeColumns returns the declared columns of table in ordinal order
func (s *SQLSource) DescribeColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.describe, s.dialect.describeArgs(table)...)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column

	for rows.Next() {
		var col Column

		var typ sql.NullString
		if err := rows.Scan(&col.Name, &typ); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}

		col.Type = strings.ToUpper(typ.String)
		if col.Type == "" {
			col.Type = "UNKNOWN"
		}

		columns = append(columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to describe table %s: %w", table, err)
	}

	if len(columns) == 0 {
		return nil, errors.Newf(errors.ErrTypeNotFound, "table '%s' not found", table)
	}

	return columns, nil
}

// Query runs stmt verbatim and reads every returned row
func (s *SQLSource) Query(ctx context.Context, stmt string) (*frame.Frame, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	f, err := scanFrame(rows)
	if err != nil {
		return nil, err
	}

	logging.WithFields(map[string]interface{}{
		"source":   s.label,
		"rows":     f.Len(),
		"duration": time.Since(start).String(),
	}).Debug("Statement executed")

	return f, nil
}

// Close releases the connection pool
func (s *SQLSource) Close() error {
	return s.db.Close()
}

func scanFrame(rows *sql.Rows) (*frame.Frame, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	kinds := make([]numericKind, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			kinds[i] = kindOf(ct.DatabaseTypeName())
		}
	}

	f := frame.New(columns...)

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		for i, v := range values {
			values[i] = normalizeValue(v, kinds[i])
		}

		f.Rows = append(f.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return f, nil
}

// numericKind says how a driver's text encoding of a column should be read
type numericKind int

const (
	kindOther numericKind = iota
	kindInt
	kindFloat
)

// kindOf classifies a driver type name such as "NUMERIC", "DECIMAL(10,2)"
// or "UNSIGNED BIGINT"
func kindOf(dbType string) numericKind {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	t = strings.TrimPrefix(t, "UNSIGNED ")

	switch t {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "INT2", "INT4", "INT8", "YEAR":
		return kindInt
	case "DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		return kindFloat
	default:
		return kindOther
	}
}

// normalizeValue maps one scanned value onto the frame value types. lib/pq
// and the MySQL text protocol hand numbers over as bytes; DuckDB returns
// DECIMAL as its own struct.
func normalizeValue(v any, kind numericKind) any {
	switch val := v.(type) {
	case duckdb.Decimal:
		if val.Value == nil {
			return nil
		}

		return frame.Normalize(val.Float64())
	case []byte:
		text := strings.TrimSpace(string(val))

		switch kind {
		case kindInt:
			if n, err := strconv.ParseInt(text, 10, 64); err == nil {
				return n
			}

			if f, err := strconv.ParseFloat(text, 64); err == nil {
				return frame.Normalize(f)
			}
		case kindFloat:
			if f, err := strconv.ParseFloat(text, 64); err == nil {
				return frame.Normalize(f)
			}
		}
	}

	return frame.Normalize(v)
}

// SelectAll builds a full-table read for table
func SelectAll(src Source, table string) string {
	return "SELECT * FROM " + src.QuoteIdent(table)
}
