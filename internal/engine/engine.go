// Package engine executes rendered SQL against DuckDB and materializes the
// results for JSON serialization.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Executor runs queries against a single DuckDB database.
type Executor struct {
	db *sql.DB
}

// Open opens a DuckDB database at path. An empty path opens an in-memory
// database, which is what the tests and the explain-only paths use.
func Open(path string) (*Executor, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Executor{db: db}, nil
}

// NewExecutor wraps an existing connection.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Close releases the underlying connection.
func (e *Executor) Close() error {
	return e.db.Close()
}

// DB exposes the underlying connection for callers that need to load data
// or install extensions before querying.
func (e *Executor) DB() *sql.DB {
	return e.db
}

// Exec runs a statement that returns no rows.
func (e *Executor) Exec(ctx context.Context, query string) error {
	if _, err := e.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	return nil
}

// Result is a fully materialized query result.
type Result struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// Query runs a SELECT and materializes every row.
func (e *Executor) Query(ctx context.Context, query string) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var resultRows [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// Convert byte slices to strings for JSON serialization
		row := make([]any, len(vals))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Result{
		Columns:  cols,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}
