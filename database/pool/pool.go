// Package pool provides the PostgreSQL connection pool and the describe
// facility the query preparer depends on.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/satishbabariya/pgtyped-go/internal/debug"
	"github.com/satishbabariya/pgtyped-go/query/catalog"
)

// ErrUnsupportedDriver is returned by Describe when the pool's connections
// are not pgx connections.
var ErrUnsupportedDriver = errors.New("describe requires the pgx driver")

// Config holds connection pool configuration.
type Config struct {
	// MaxOpenConns is the maximum number of open connections (0 = unlimited).
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime is the maximum idle time of a connection.
	ConnMaxIdleTime time.Duration
	// HealthCheckInterval is how often to run health checks.
	HealthCheckInterval time.Duration
	// MinServerVersion, when set, is checked by Open against the server.
	MinServerVersion string
	Logger           *slog.Logger
}

// DefaultConfig returns sensible default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     30 * time.Minute,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 1 * time.Minute,
	}
}

// Pool manages database connections with lifecycle management.
type Pool struct {
	db     *sql.DB
	config Config
	log    *slog.Logger

	// Metrics
	mu              sync.RWMutex
	failedChecks    int64
	lastHealthCheck time.Time
	lastError       error

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects to the database at url through the pgx driver and, when
// config.MinServerVersion is set, verifies the server version.
func Open(ctx context.Context, url string, config Config) (*Pool, error) {
	connConfig, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	p := Wrap(stdlib.OpenDB(*connConfig), config)
	if config.MinServerVersion != "" {
		if _, err := p.CheckServerVersion(ctx, config.MinServerVersion); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Wrap manages an already opened database.
func Wrap(db *sql.DB, config Config) *Pool {
	// Apply pool configuration
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		db:     db,
		config: config,
		log:    debug.Component("pool", config.Logger),
		ctx:    ctx,
		cancel: cancel,
	}

	// Start health check routine if configured
	if config.HealthCheckInterval > 0 {
		pool.wg.Add(1)
		go pool.healthCheckLoop()
	}

	return pool
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Describe parses and describes query on one pooled connection without
// executing it, using the unnamed statement. Server rejections come back as
// *pgconn.PgError for the caller to classify.
func (p *Pool) Describe(ctx context.Context, query string) (*catalog.Description, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	var sd *pgconn.StatementDescription
	err = conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("%w, got %T", ErrUnsupportedDriver, driverConn)
		}
		var err error
		sd, err = c.Conn().PgConn().Prepare(ctx, "", query, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toDescription(sd), nil
}

func toDescription(sd *pgconn.StatementDescription) *catalog.Description {
	desc := &catalog.Description{
		ParamOIDs: append([]uint32(nil), sd.ParamOIDs...),
		Fields:    make([]catalog.Field, len(sd.Fields)),
	}
	for i, f := range sd.Fields {
		desc.Fields[i] = catalog.Field{
			Name:     f.Name,
			TableOID: f.TableOID,
			Ordinal:  int16(f.TableAttributeNumber),
			TypeOID:  f.DataTypeOID,
		}
	}
	return desc
}

// ServerVersion returns the server's version, without distribution suffix.
func (p *Pool) ServerVersion(ctx context.Context) (*version.Version, error) {
	var raw string
	if err := p.db.QueryRowContext(ctx, "SELECT current_setting('server_version')").Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to read server version: %w", err)
	}
	return parseServerVersion(raw)
}

// parseServerVersion accepts forms such as "16.2", "15beta1" and
// "16.2 (Debian 16.2-1.pgdg120+2)".
func parseServerVersion(raw string) (*version.Version, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty server version")
	}
	v, err := version.NewVersion(fields[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse server version %q: %w", raw, err)
	}
	return v, nil
}

// CheckServerVersion fails when the server is older than minimum.
func (p *Pool) CheckServerVersion(ctx context.Context, minimum string) (*version.Version, error) {
	want, err := version.NewVersion(minimum)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum server version %q: %w", minimum, err)
	}
	got, err := p.ServerVersion(ctx)
	if err != nil {
		return nil, err
	}
	if got.LessThan(want) {
		return got, fmt.Errorf("server version %s is older than required %s", got, want)
	}
	p.log.Debug("server version accepted", "version", got.String(), "minimum", want.String())
	return got, nil
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dbStats := p.db.Stats()

	return PoolStats{
		MaxOpenConnections: p.config.MaxOpenConns,
		OpenConnections:    dbStats.OpenConnections,
		InUse:              dbStats.InUse,
		Idle:               dbStats.Idle,
		WaitCount:          dbStats.WaitCount,
		WaitDuration:       dbStats.WaitDuration,
		MaxIdleClosed:      dbStats.MaxIdleClosed,
		MaxLifetimeClosed:  dbStats.MaxLifetimeClosed,
		FailedHealthChecks: p.failedChecks,
		LastHealthCheck:    p.lastHealthCheck,
		LastError:          p.lastError,
	}
}

// PoolStats represents pool statistics.
type PoolStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
	MaxIdleClosed      int64
	MaxLifetimeClosed  int64
	FailedHealthChecks int64
	LastHealthCheck    time.Time
	LastError          error
}

// HealthCheck performs a health check on the connection pool.
func (p *Pool) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	p.lastHealthCheck = time.Now()
	p.mu.Unlock()

	err := p.db.PingContext(ctx)
	if err == nil {
		_, err = p.db.ExecContext(ctx, "SELECT 1")
	}
	if err != nil {
		p.mu.Lock()
		p.failedChecks++
		p.lastError = err
		p.mu.Unlock()
		p.log.Warn("health check failed", "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}

	p.mu.Lock()
	p.lastError = nil
	p.mu.Unlock()
	return nil
}

// healthCheckLoop runs periodic health checks.
func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
			_ = p.HealthCheck(ctx)
			cancel()
		}
	}
}

// Close closes the pool and waits for background routines to finish.
func (p *Pool) Close() error {
	p.cancel()
	p.wg.Wait()
	return p.db.Close()
}

// QueryContext executes a query that returns rows. It makes the pool a
// catalog.Querier.
func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return p.db.QueryContext(ctx, query, args...)
}

// ExecContext executes a query without returning rows.
func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction with options.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return p.db.BeginTx(ctx, opts)
}
