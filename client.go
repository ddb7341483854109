package pgtyped

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/satishbabariya/pgtyped-go/config"
	"github.com/satishbabariya/pgtyped-go/database/pool"
	"github.com/satishbabariya/pgtyped-go/internal/debug"
	"github.com/satishbabariya/pgtyped-go/query/cache"
	"github.com/satishbabariya/pgtyped-go/query/catalog"
	"github.com/satishbabariya/pgtyped-go/query/prepare"
)

// Options configures a Client built with NewClient.
type Options struct {
	// CacheSize bounds the prepared query cache; 0 is unbounded.
	CacheSize int
	// PrepareTimeout bounds one preparation; 0 is unbounded.
	PrepareTimeout time.Duration
	// Types shares resolved catalog types between clients of one database.
	Types  *catalog.TypeCache
	Logger *slog.Logger
}

// Client is the typed database client. It is safe for concurrent use.
type Client struct {
	db          *sql.DB
	pool        *pool.Pool
	preparer    *prepare.Preparer
	middlewares []Middleware
	log         *slog.Logger
}

// New connects using cfg through the pgx driver.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Debug {
		debug.Init(true)
	}

	p, err := pool.Open(ctx, cfg.DatabaseURL, cfg.Pool())
	if err != nil {
		return nil, err
	}

	c := NewClient(p.DB(), p, Options{
		CacheSize:      cfg.PreparedCacheSize,
		PrepareTimeout: cfg.PrepareTimeout,
	})
	c.pool = p
	return c, nil
}

// NewClient creates a client from an open database and a describer. Catalog
// queries and statements run on db.
func NewClient(db *sql.DB, describer catalog.Describer, opts Options) *Client {
	return &Client{
		db: db,
		preparer: prepare.New(prepare.Config{
			Describer: describer,
			Catalog:   db,
			Types:     opts.Types,
			CacheSize: opts.CacheSize,
			Timeout:   opts.PrepareTimeout,
			Logger:    opts.Logger,
		}),
		log: debug.Component("client", opts.Logger),
	}
}

// Close closes the pool opened by New, or db for clients from NewClient.
func (c *Client) Close() error {
	if c.pool != nil {
		return c.pool.Close()
	}
	return c.db.Close()
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying database connection
func (c *Client) DB() *sql.DB {
	return c.db
}

// Pool returns the pool opened by New, or nil.
func (c *Client) Pool() *pool.Pool {
	return c.pool
}

// Preparer exposes the prepared query cache for eviction and inspection.
func (c *Client) Preparer() *prepare.Preparer {
	return c.preparer
}

// CacheStats returns prepared query cache statistics.
func (c *Client) CacheStats() cache.Stats {
	return c.preparer.Stats()
}

// Prepare prepares q without executing it.
func (c *Client) Prepare(ctx context.Context, q Query) (*prepare.PreparedQuery, error) {
	return c.preparer.Prepare(ctx, q.SQL, q.Params, q.prepareOptions()...)
}
