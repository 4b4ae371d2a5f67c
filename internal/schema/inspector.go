// Package schema reads table and column metadata from the target database's
// catalog. Table names are always passed as query parameters.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/sheetload/internal/database"
)

// ErrTableNotFound is returned when the catalog has no columns for a table.
var ErrTableNotFound = errors.New("table not found")

// TableColumn is one column of a target table.
type TableColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// ColumnSet is the set of column names that may appear in an INSERT for
// one table.
type ColumnSet map[string]struct{}

// Has reports whether name is a column of the table.
func (s ColumnSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Catalog runs catalog queries. database.DB satisfies it.
type Catalog interface {
	Dialect() database.Dialect
	Query(ctx context.Context, query string, args ...any) (database.Rows, error)
}

// Inspector answers questions about the target database's tables.
type Inspector struct {
	db Catalog
}

// NewInspector creates an Inspector over db.
func NewInspector(db Catalog) *Inspector {
	return &Inspector{db: db}
}

// Tables lists the tables available for import, ordered by name.
func (i *Inspector) Tables(ctx context.Context) ([]string, error) {
	query, args := i.db.Dialect().TablesQuery()

	rows, err := i.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// Columns returns the columns of table in physical order. A table that is
// missing from the catalog yields ErrTableNotFound rather than an empty list.
func (i *Inspector) Columns(ctx context.Context, table string) ([]TableColumn, error) {
	query, args := i.db.Dialect().ColumnsQuery(table)

	rows, err := i.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []TableColumn
	for rows.Next() {
		var col TableColumn
		if err := rows.Scan(&col.Name, &col.DataType); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return columns, nil
}

// AllowList returns the column names of table.
func (i *Inspector) AllowList(ctx context.Context, table string) (ColumnSet, error) {
	columns, err := i.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	return NewColumnSet(columns), nil
}

// NewColumnSet builds a ColumnSet from catalog columns.
func NewColumnSet(columns []TableColumn) ColumnSet {
	set := make(ColumnSet, len(columns))
	for _, col := range columns {
		set[col.Name] = struct{}{}
	}
	return set
}
