package pgtyped

import (
	"context"
	"log/slog"
	"time"

	"github.com/satishbabariya/pgtyped-go/query/prepare"
)

// QueryEvent represents a query execution event
type QueryEvent struct {
	Name        string
	SQL         string
	Fingerprint string
	Args        []any
	// Rows is the number of rows read or affected.
	Rows     int64
	Duration time.Duration
	Error    error
	Start    time.Time
	End      time.Time
}

// Middleware is a function that intercepts statement execution. Preparation
// happens before the chain runs.
type Middleware func(ctx context.Context, event *QueryEvent, next func() error) error

// Use adds a middleware to the chain. It must not be called concurrently
// with query execution.
func (c *Client) Use(middleware Middleware) {
	c.middlewares = append(c.middlewares, middleware)
}

// intercept runs exec through the middleware chain.
func (c *Client) intercept(ctx context.Context, q Query, pq *prepare.PreparedQuery, args []any, exec func(*QueryEvent) error) error {
	event := &QueryEvent{
		Name:        q.label(),
		SQL:         pq.SQL,
		Fingerprint: pq.Fingerprint,
		Args:        args,
		Start:       time.Now(),
	}

	var next func() error
	index := 0

	next = func() error {
		if index >= len(c.middlewares) {
			// Last middleware, execute the actual query
			err := exec(event)
			event.End = time.Now()
			event.Duration = event.End.Sub(event.Start)
			event.Error = err
			return err
		}

		middleware := c.middlewares[index]
		index++
		return middleware(ctx, event, next)
	}

	err := next()
	c.log.Debug("executed",
		"query", event.Name,
		"rows", event.Rows,
		"duration", event.Duration,
		"error", err,
	)
	return err
}

// LoggingMiddleware logs every statement at debug level and failures at
// error level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(ctx context.Context, event *QueryEvent, next func() error) error {
		logger.DebugContext(ctx, "executing query", "query", event.Name, "sql", event.SQL, "args", len(event.Args))
		err := next()
		if err != nil {
			logger.ErrorContext(ctx, "query failed", "query", event.Name, "error", err)
		} else {
			logger.DebugContext(ctx, "query completed", "query", event.Name, "rows", event.Rows, "duration", event.Duration)
		}
		return err
	}
}

// TimingMiddleware creates a middleware that measures query execution time
func TimingMiddleware(onTiming func(name string, duration time.Duration)) Middleware {
	return func(ctx context.Context, event *QueryEvent, next func() error) error {
		err := next()
		if onTiming != nil {
			onTiming(event.Name, event.Duration)
		}
		return err
	}
}

// ErrorMiddleware creates a middleware that handles errors
func ErrorMiddleware(onError func(name string, err error)) Middleware {
	return func(ctx context.Context, event *QueryEvent, next func() error) error {
		err := next()
		if err != nil && onError != nil {
			onError(event.Name, err)
		}
		return err
	}
}
