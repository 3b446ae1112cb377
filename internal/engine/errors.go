package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAggregateExpr is returned by Aggregate when neither grouping nor
	// aggregate expressions were supplied.
	ErrNoAggregateExpr = errors.New("Aggregate requires at least one grouping or aggregate expression")
	ErrTableNotFound   = errors.New("table not found")
	ErrColumnNotFound  = errors.New("column not found")
	ErrDuplicateColumn = errors.New("duplicate column name")
	ErrUnsupportedCast = errors.New("unsupported cast")
	ErrSchemaMismatch  = errors.New("schema mismatch")
	ErrSessionClosed   = errors.New("session closed")
	// ErrNotQuery is returned by SQL for statements that do not produce rows.
	ErrNotQuery = errors.New("only SELECT, WITH and VALUES queries are supported")
)

// QueryError wraps a failure reported by the database while executing Query.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string { return fmt.Sprintf("execute query: %v", e.Err) }

func (e *QueryError) Unwrap() error { return e.Err }
