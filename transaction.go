package pgtyped

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/satishbabariya/pgtyped-go/runtime"
)

// IsolationLevel represents transaction isolation levels
type IsolationLevel int

const (
	// ReadCommitted prevents dirty reads (default)
	ReadCommitted IsolationLevel = iota
	// RepeatableRead prevents dirty reads and non-repeatable reads
	RepeatableRead
	// Serializable prevents dirty reads, non-repeatable reads, and phantom reads
	Serializable
)

// ToSQLIsolationLevel converts IsolationLevel to sql.IsolationLevel
func (level IsolationLevel) ToSQLIsolationLevel() sql.IsolationLevel {
	switch level {
	case RepeatableRead:
		return sql.LevelRepeatableRead
	case Serializable:
		return sql.LevelSerializable
	default:
		return sql.LevelReadCommitted
	}
}

// NewTxOptions creates sql.TxOptions from isolation level
func NewTxOptions(isolation IsolationLevel, readOnly bool) *sql.TxOptions {
	return &sql.TxOptions{
		Isolation: isolation.ToSQLIsolationLevel(),
		ReadOnly:  readOnly,
	}
}

// Tx runs queries inside a transaction. Prepared statements are shared with
// the client; preparation itself never runs inside the transaction.
type Tx struct {
	tx     *sql.Tx
	client *Client
	depth  int // Track nesting depth for savepoints
}

// TransactionFunc is a function that runs within a transaction
type TransactionFunc func(tx *Tx) error

// Transaction executes fn within a database transaction. The transaction is
// committed when fn returns nil and rolled back when it returns an error or
// panics.
func (c *Client) Transaction(ctx context.Context, fn TransactionFunc) error {
	return c.TransactionWithOptions(ctx, nil, fn)
}

// TransactionWithOptions executes a transaction with custom options
func (c *Client) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TransactionFunc) error {
	// Begin transaction
	sqlTx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", runtime.Classify(runtime.StageExecute, "BEGIN", err))
	}

	tx := &Tx{tx: sqlTx, client: c}

	// Defer rollback in case of panic
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	// Execute the function
	if err := fn(tx); err != nil {
		// Rollback on error
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %w", err, runtime.Classify(runtime.StageExecute, "ROLLBACK", rbErr))
		}
		return err
	}

	// Commit transaction
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", runtime.Classify(runtime.StageExecute, "COMMIT", err))
	}

	return nil
}

// TransactionWithIsolation executes a transaction with a specific isolation level
func (c *Client) TransactionWithIsolation(ctx context.Context, isolation IsolationLevel, fn TransactionFunc) error {
	return c.TransactionWithOptions(ctx, NewTxOptions(isolation, false), fn)
}

// ReadOnlyTransaction executes a read-only transaction
func (c *Client) ReadOnlyTransaction(ctx context.Context, fn TransactionFunc) error {
	return c.TransactionWithOptions(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

// Execute runs q inside the transaction.
func (tx *Tx) Execute(ctx context.Context, q Query) (*Result, error) {
	return tx.client.execute(ctx, tx.tx, q, 0)
}

// Get returns the first record of q, or runtime.ErrNotFound.
func (tx *Tx) Get(ctx context.Context, q Query) (any, error) {
	return tx.client.get(ctx, tx.tx, q)
}

// Exec runs q and returns the number of affected rows.
func (tx *Tx) Exec(ctx context.Context, q Query) (int64, error) {
	return tx.client.exec(ctx, tx.tx, q)
}

// ExecMany runs q once per argument set and returns the total number of
// affected rows. It stops at the first failure.
func (tx *Tx) ExecMany(ctx context.Context, q Query, argSets [][]any) (int64, error) {
	q.ParamRecord = nil
	var total int64
	for i, args := range argSets {
		n, err := tx.Exec(ctx, q.With(WithArgs(args...)))
		if err != nil {
			return total, fmt.Errorf("argument set %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}

// Savepoint runs fn in a nested transaction. Errors roll back to the
// savepoint and leave the outer transaction usable.
func (tx *Tx) Savepoint(ctx context.Context, fn TransactionFunc) error {
	tx.depth++
	savepointName := fmt.Sprintf("sp_%d", tx.depth)

	// Create savepoint
	_, err := tx.tx.ExecContext(ctx, "SAVEPOINT "+savepointName)
	if err != nil {
		tx.depth--
		return fmt.Errorf("failed to create savepoint: %w", runtime.Classify(runtime.StageExecute, "SAVEPOINT "+savepointName, err))
	}

	// Defer rollback to savepoint in case of panic
	defer func() {
		if p := recover(); p != nil {
			_, _ = tx.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName)
			tx.depth--
			panic(p)
		}
	}()

	// Execute the function
	if err := fn(tx); err != nil {
		// Rollback to savepoint on error
		if _, rbErr := tx.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			tx.depth--
			return fmt.Errorf("nested transaction error: %w, rollback error: %w", err,
				runtime.Classify(runtime.StageExecute, "ROLLBACK TO SAVEPOINT "+savepointName, rbErr))
		}
		tx.depth--
		return err
	}

	// Release savepoint (commit nested transaction)
	if _, err := tx.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		tx.depth--
		return fmt.Errorf("failed to release savepoint: %w", runtime.Classify(runtime.StageExecute, "RELEASE SAVEPOINT "+savepointName, err))
	}

	tx.depth--
	return nil
}
