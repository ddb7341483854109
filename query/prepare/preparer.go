package prepare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/satishbabariya/pgtyped-go/internal/debug"
	"github.com/satishbabariya/pgtyped-go/query/cache"
	"github.com/satishbabariya/pgtyped-go/query/catalog"
	"github.com/satishbabariya/pgtyped-go/query/placeholder"
	"github.com/satishbabariya/pgtyped-go/runtime"
	"github.com/satishbabariya/pgtyped-go/runtime/record"
)

// ErrParamModelMismatch is returned when a parameter model does not declare
// one field per value parameter.
var ErrParamModelMismatch = errors.New("parameter model does not match statement")

// Config configures a Preparer.
type Config struct {
	// Describer reports parameter and column metadata for a statement.
	Describer catalog.Describer
	// Catalog runs the type, attribute and comment queries.
	Catalog catalog.Querier
	// Types is shared with other preparers of the same client. Nil creates a
	// private cache.
	Types *catalog.TypeCache
	// CacheSize bounds the prepared query cache; zero keeps every entry
	// until it is evicted explicitly.
	CacheSize int
	// Timeout bounds one preparation, independent of the callers waiting on
	// it. Zero means no bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns a configuration with default settings.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Preparer prepares statements at most once per fingerprint.
type Preparer struct {
	describer catalog.Describer
	types     *catalog.TypeResolver
	columns   *catalog.ColumnResolver
	cache     *cache.LRU[*PreparedQuery]
	group     singleflight.Group
	timeout   time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Preparer.
func New(cfg Config) *Preparer {
	log := debug.Component("preparer", cfg.Logger)
	return &Preparer{
		describer: cfg.Describer,
		types:     catalog.NewTypeResolver(cfg.Catalog, cfg.Types, cfg.Logger),
		columns:   catalog.NewColumnResolver(cfg.Catalog, cfg.Logger),
		cache:     cache.New[*PreparedQuery](cfg.CacheSize),
		timeout:   cfg.Timeout,
		log:       log,
		inflight:  make(map[string]struct{}),
	}
}

// Option declares models for one Prepare call.
type Option func(*options)

type options struct {
	paramModel  record.Model
	resultModel record.Model
}

// WithParamModel declares the types of the value parameters ($1..$N of the
// caller SQL) instead of inferring them from the catalog.
func WithParamModel(m record.Model) Option {
	return func(o *options) { o.paramModel = m }
}

// WithResultModel declares the result record. Column types come from its
// fields instead of the catalog.
func WithResultModel(m record.Model) Option {
	return func(o *options) { o.resultModel = m }
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func modelName(m record.Model) string {
	if m == nil {
		return ""
	}
	return m.Name()
}

// Fingerprint returns the cache key of raw under opts.
func Fingerprint(raw string, opts ...Option) string {
	o := collectOptions(opts)
	return cache.Fingerprint(raw, modelName(o.paramModel), modelName(o.resultModel))
}

// Prepare returns the prepared form of raw. Unbound dynamic placeholders
// fail before any database call. Concurrent calls for one fingerprint share
// a single preparation; each caller stops waiting when its own ctx ends.
// A failed preparation publishes nothing, so the next call starts over.
func (p *Preparer) Prepare(ctx context.Context, raw string, dynamic map[string]any, opts ...Option) (*PreparedQuery, error) {
	rw, err := placeholder.Rewrite(raw, dynamic)
	if err != nil {
		return nil, err
	}

	o := collectOptions(opts)
	key := cache.Fingerprint(raw, modelName(o.paramModel), modelName(o.resultModel))

	if q, ok := p.cache.Get(key); ok {
		p.log.Debug("prepared query cache hit", "fingerprint", key[:12])
		return q, nil
	}

	ch := p.group.DoChan(key, func() (any, error) {
		if q, ok := p.cache.Peek(key); ok {
			return q, nil
		}
		p.setPreparing(key, true)
		defer p.setPreparing(key, false)

		fctx := context.WithoutCancel(ctx)
		if p.timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, p.timeout)
			defer cancel()
		}

		start := time.Now()
		q, err := p.build(fctx, key, raw, rw, o)
		if err != nil {
			p.log.Debug("preparation failed", "fingerprint", key[:12], "error", err)
			return nil, err
		}
		q = p.cache.SetIfAbsent(key, q)
		p.log.Debug("prepared query",
			"fingerprint", key[:12],
			"params", len(q.Params),
			"columns", len(q.Columns),
			"duration", time.Since(start),
		)
		return q, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*PreparedQuery), nil
	case <-ctx.Done():
		return nil, &runtime.TransportError{Op: "prepare", Err: ctx.Err()}
	}
}

func (p *Preparer) build(ctx context.Context, key, raw string, rw *placeholder.Rewritten, o options) (*PreparedQuery, error) {
	desc, err := p.describer.Describe(ctx, rw.SQL)
	if err != nil {
		return nil, runtime.Classify(runtime.StageDescribe, rw.SQL, err)
	}

	if want := rw.Offset + len(rw.Names); len(desc.ParamOIDs) < want {
		return nil, &runtime.QueryParseError{
			ServerError: runtime.ServerError{
				Message: fmt.Sprintf("describe reported %d parameters for a statement using %d", len(desc.ParamOIDs), want),
			},
			Query: rw.SQL,
		}
	}
	if o.paramModel != nil {
		if n := len(o.paramModel.DeclareFields()); n != rw.Offset {
			return nil, fmt.Errorf("%w: %s declares %d fields for %d value parameters",
				ErrParamModelMismatch, o.paramModel.Name(), n, rw.Offset)
		}
	}

	var oids []uint32
	for i, oid := range desc.ParamOIDs {
		if o.paramModel != nil && i < rw.Offset {
			continue
		}
		oids = append(oids, oid)
	}
	if o.resultModel == nil {
		for _, f := range desc.Fields {
			oids = append(oids, f.TypeOID)
		}
	}

	types, err := p.types.Resolve(ctx, oids)
	if err != nil {
		return nil, err
	}
	columns, err := p.columns.Resolve(ctx, desc.Fields, columnTypes(types, o.resultModel))
	if err != nil {
		return nil, err
	}

	return &PreparedQuery{
		Fingerprint:     key,
		Raw:             raw,
		SQL:             rw.SQL,
		Params:          buildParams(desc.ParamOIDs, types, rw, o.paramModel),
		Columns:         columns,
		DynamicNames:    append([]string(nil), rw.Names...),
		ValueParamCount: rw.Offset,
		ParamModel:      o.paramModel,
		ResultModel:     o.resultModel,
	}, nil
}

// columnTypes withholds result types when a result model declares them.
func columnTypes(types map[uint32]*catalog.TypeDescriptor, resultModel record.Model) map[uint32]*catalog.TypeDescriptor {
	if resultModel != nil {
		return nil
	}
	return types
}

func buildParams(oids []uint32, types map[uint32]*catalog.TypeDescriptor, rw *placeholder.Rewritten, paramModel record.Model) []Param {
	var declared []record.Field
	if paramModel != nil {
		declared = paramModel.DeclareFields()
	}

	params := make([]Param, len(oids))
	for i, oid := range oids {
		pos := i + 1
		param := Param{Position: pos}
		switch {
		case pos <= rw.Offset && declared != nil:
			param.Name = declared[i].Name
			param.GoType = declared[i].Type
		case pos > rw.Offset && pos-rw.Offset <= len(rw.Names):
			param.Name = rw.Names[pos-rw.Offset-1]
			param.Type = types[oid]
		default:
			param.Type = types[oid]
		}
		params[i] = param
	}
	return params
}

func (p *Preparer) setPreparing(key string, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.inflight[key] = struct{}{}
	} else {
		delete(p.inflight, key)
	}
}

// State reports the preparation state of raw under opts.
func (p *Preparer) State(raw string, opts ...Option) State {
	key := Fingerprint(raw, opts...)
	if _, ok := p.cache.Peek(key); ok {
		return Prepared
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[key]; ok {
		return Preparing
	}
	return Unprepared
}

// Evict drops the prepared query with the given fingerprint.
func (p *Preparer) Evict(fingerprint string) bool {
	return p.cache.Invalidate(fingerprint)
}

// EvictFunc drops every prepared query for which match returns true, for
// example all statements reading a table whose schema changed.
func (p *Preparer) EvictFunc(match func(*PreparedQuery) bool) int {
	return p.cache.InvalidateFunc(func(_ string, q *PreparedQuery) bool { return match(q) })
}

// Purge drops every prepared query. Resolved types stay cached.
func (p *Preparer) Purge() {
	p.cache.Clear()
}

// Stats returns prepared query cache statistics.
func (p *Preparer) Stats() cache.Stats {
	return p.cache.Stats()
}

// Types returns the type cache shared by this preparer's resolvers.
func (p *Preparer) Types() *catalog.TypeCache {
	return p.types.Cache()
}
