// Package sqlfake is an in-memory database/sql driver for tests. Every
// statement is routed to a Handler, and every call is recorded.
package sqlfake

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
)

// Result is what a Handler returns for one statement.
type Result struct {
	Columns      []string
	Rows         [][]driver.Value
	RowsAffected int64
}

// Handler answers a query or exec. Returning an error fails the call.
type Handler func(query string, args []driver.NamedValue) (*Result, error)

// Call records one statement seen by the driver.
type Call struct {
	Query string
	Args  []any
}

// DB is a *sql.DB wired to a Handler.
type DB struct {
	*sql.DB

	mu        sync.Mutex
	calls     []Call
	commits   int
	rollbacks int
	beginErr  error
	commitErr error
	handler   Handler
}

// Open returns a DB that sends every statement to h.
func Open(h Handler) *DB {
	db := &DB{handler: h}
	db.DB = sql.OpenDB(&connector{db: db})
	return db
}

// Calls returns a copy of the recorded statements.
func (db *DB) Calls() []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Call(nil), db.calls...)
}

// CountContaining returns how many recorded statements contain substr.
func (db *DB) CountContaining(substr string) int {
	n := 0
	for _, c := range db.Calls() {
		if strings.Contains(c.Query, substr) {
			n++
		}
	}
	return n
}

// FailBegin makes every following transaction start fail with err. A nil
// err restores normal behavior.
func (db *DB) FailBegin(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.beginErr = err
}

// FailCommit makes every following commit fail with err.
func (db *DB) FailCommit(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.commitErr = err
}

func (db *DB) begin() (driver.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.beginErr != nil {
		return nil, db.beginErr
	}
	return &tx{db: db}, nil
}

// Commits returns the number of committed transactions.
func (db *DB) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

// Rollbacks returns the number of rolled back transactions.
func (db *DB) Rollbacks() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rollbacks
}

func (db *DB) run(query string, args []driver.NamedValue) (*Result, error) {
	plain := make([]any, len(args))
	for i, a := range args {
		plain[i] = a.Value
	}
	db.mu.Lock()
	db.calls = append(db.calls, Call{Query: query, Args: plain})
	h := db.handler
	db.mu.Unlock()

	if h == nil {
		return &Result{}, nil
	}
	res, err := h(query, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

type connector struct {
	db *DB
}

func (c *connector) Connect(context.Context) (driver.Conn, error) { return &conn{db: c.db}, nil }
func (c *connector) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("sqlfake: use Open, not sql.Open")
}

type conn struct {
	db *DB
}

func (c *conn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *conn) Close() error                        { return nil }
func (c *conn) Begin() (driver.Tx, error)           { return c.db.begin() }

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return c.db.begin()
}

// CheckNamedValue accepts every argument as-is.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.db.run(query, args)
	if err != nil {
		return nil, err
	}
	return &rows{cols: res.Columns, data: res.Rows}, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := c.db.run(query, args)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(res.RowsAffected), nil
}

type tx struct {
	db *DB
}

func (t *tx) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if t.db.commitErr != nil {
		return t.db.commitErr
	}
	t.db.commits++
	return nil
}

func (t *tx) Rollback() error {
	t.db.mu.Lock()
	t.db.rollbacks++
	t.db.mu.Unlock()
	return nil
}

type rows struct {
	cols []string
	data [][]driver.Value
	i    int
}

func (r *rows) Columns() []string { return append([]string(nil), r.cols...) }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}
