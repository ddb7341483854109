package pgtyped

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/satishbabariya/pgtyped-go/query/catalog"
	"github.com/satishbabariya/pgtyped-go/query/prepare"
	"github.com/satishbabariya/pgtyped-go/runtime"
	"github.com/satishbabariya/pgtyped-go/runtime/record"
)

// Result is a fully materialized result set.
type Result struct {
	Columns []catalog.ColumnDescriptor
	// Records holds one record.Row per row, or one ResultModel instance
	// per row when the query declares a result model.
	Records []any
}

// Rows returns the records that are generic rows.
func (r *Result) Rows() []record.Row {
	rows := make([]record.Row, 0, len(r.Records))
	for _, rec := range r.Records {
		if row, ok := rec.(record.Row); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// Len returns the number of records.
func (r *Result) Len() int {
	return len(r.Records)
}

// Querier executes queries. *Client and *Tx implement it.
type Querier interface {
	Execute(ctx context.Context, q Query) (*Result, error)
	Get(ctx context.Context, q Query) (any, error)
	Exec(ctx context.Context, q Query) (int64, error)
}

var (
	_ Querier = (*Client)(nil)
	_ Querier = (*Tx)(nil)
)

// execer runs statements. *sql.DB and *sql.Tx satisfy it.
type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Execute prepares q, runs it and materializes every row. A row that fails
// to materialize abandons the whole result set.
func (c *Client) Execute(ctx context.Context, q Query) (*Result, error) {
	return c.execute(ctx, c.db, q, 0)
}

// Get returns the first record of q, or runtime.ErrNotFound.
func (c *Client) Get(ctx context.Context, q Query) (any, error) {
	return c.get(ctx, c.db, q)
}

// Exec runs q and returns the number of affected rows.
func (c *Client) Exec(ctx context.Context, q Query) (int64, error) {
	return c.exec(ctx, c.db, q)
}

// ExecMany runs q once per argument set inside one transaction. q.Params
// apply to every execution. Nothing is committed if any execution fails.
func (c *Client) ExecMany(ctx context.Context, q Query, argSets [][]any) (int64, error) {
	var total int64
	err := c.Transaction(ctx, func(tx *Tx) error {
		n, err := tx.ExecMany(ctx, q, argSets)
		total = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (c *Client) execute(ctx context.Context, ex execer, q Query, limit int) (*Result, error) {
	pq, err := c.Prepare(ctx, q)
	if err != nil {
		return nil, err
	}
	args, err := q.args(pq)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = c.intercept(ctx, q, pq, args, func(event *QueryEvent) error {
		rows, err := ex.QueryContext(ctx, pq.SQL, args...)
		if err != nil {
			return runtime.Classify(runtime.StageExecute, pq.SQL, err)
		}
		defer rows.Close()

		res, err = collect(rows, pq, q, limit)
		if res != nil {
			event.Rows = int64(res.Len())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) get(ctx context.Context, ex execer, q Query) (any, error) {
	res, err := c.execute(ctx, ex, q, 1)
	if err != nil {
		return nil, err
	}
	if res.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", q.label(), runtime.ErrNotFound)
	}
	return res.Records[0], nil
}

func (c *Client) exec(ctx context.Context, ex execer, q Query) (int64, error) {
	pq, err := c.Prepare(ctx, q)
	if err != nil {
		return 0, err
	}
	args, err := q.args(pq)
	if err != nil {
		return 0, err
	}

	var affected int64
	err = c.intercept(ctx, q, pq, args, func(event *QueryEvent) error {
		r, err := ex.ExecContext(ctx, pq.SQL, args...)
		if err != nil {
			return runtime.Classify(runtime.StageExecute, pq.SQL, err)
		}
		affected, err = r.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		event.Rows = affected
		return nil
	})
	return affected, err
}

// collect materializes up to limit rows; limit <= 0 reads every row.
func collect(rows *sql.Rows, pq *prepare.PreparedQuery, q Query, limit int) (*Result, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, runtime.Classify(runtime.StageExecute, pq.SQL, err)
	}

	mat := record.NewMaterializer(pq.Columns, q.ResultModel, q.ColumnMapping)
	res := &Result{Columns: pq.Columns}

	values := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, runtime.Classify(runtime.StageExecute, pq.SQL, err)
		}
		rec, err := mat.Materialize(len(res.Records), values)
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, rec)
		if limit > 0 && len(res.Records) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, runtime.Classify(runtime.StageExecute, pq.SQL, err)
	}
	return res, nil
}
