package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jmoiron/sqlx"
)

// Dialect holds the SQL differences between supported databases: identifier
// quoting, placeholder style and catalog queries.
type Dialect interface {
	Name() string

	// QuoteIdent quotes a column name.
	QuoteIdent(name string) string

	// QuoteTable quotes a table name, qualified by schema where the
	// dialect has one.
	QuoteTable(name string) string

	// BindType is the sqlx bind type for positional parameters.
	BindType() int

	// TablesQuery lists table names, ordered by name.
	TablesQuery() (string, []any)

	// ColumnsQuery lists (name, data type) for one table in physical order.
	ColumnsQuery(table string) (string, []any)
}

// PostgresDialect targets one schema of a PostgreSQL database.
type PostgresDialect struct {
	Schema string
}

func (d PostgresDialect) Name() string { return "postgres" }

func (d PostgresDialect) QuoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (d PostgresDialect) QuoteTable(name string) string {
	return pgx.Identifier{d.schema(), name}.Sanitize()
}

func (d PostgresDialect) BindType() int { return sqlx.DOLLAR }

func (d PostgresDialect) TablesQuery() (string, []any) {
	return `SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		ORDER BY table_name`, []any{d.schema()}
}

func (d PostgresDialect) ColumnsQuery(table string) (string, []any) {
	return `SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, []any{d.schema(), table}
}

func (d PostgresDialect) schema() string {
	if d.Schema == "" {
		return "public"
	}
	return d.Schema
}

// SQLiteDialect targets the main database of a SQLite file.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d SQLiteDialect) QuoteTable(name string) string { return d.QuoteIdent(name) }

func (SQLiteDialect) BindType() int { return sqlx.QUESTION }

func (SQLiteDialect) TablesQuery() (string, []any) {
	return `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`, nil
}

func (SQLiteDialect) ColumnsQuery(table string) (string, []any) {
	return `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, []any{table}
}

// InsertStatement builds a single-row INSERT for table with one positional
// parameter per column, in the order given.
func InsertStatement(d Dialect, table string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = d.QuoteIdent(col)
		marks[i] = "?"
	}

	// Only the placeholder list is rebound; quoted identifiers may
	// legitimately contain '?'.
	values := sqlx.Rebind(d.BindType(), strings.Join(marks, ", "))

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteTable(table),
		strings.Join(quoted, ", "),
		values,
	)
}
