package pgtyped

import (
	"maps"

	"github.com/satishbabariya/pgtyped-go/query/prepare"
	"github.com/satishbabariya/pgtyped-go/runtime/record"
)

// Query is one statement with its bindings. The zero value of every optional
// field means "not set". Query is a value; options return modified copies.
type Query struct {
	// Name labels the statement in logs and middleware events.
	Name string
	// SQL may mix native $N markers with {name} placeholders.
	SQL string
	// Args fill the native $1..$N markers.
	Args []any
	// Params bind the {name} placeholders.
	Params map[string]any
	// ParamModel declares the types of Args instead of the catalog.
	ParamModel record.Model
	// ParamRecord supplies Args from a record of ParamModel.
	ParamRecord any
	// ResultModel declares the result record. Without one, rows are
	// returned as record.Row.
	ResultModel record.Model
	// ColumnMapping renames result columns before materialization.
	ColumnMapping map[string]string
}

// QueryOption modifies a Query.
type QueryOption func(*Query)

// NewQuery creates a query for sql.
func NewQuery(sql string, opts ...QueryOption) Query {
	q := Query{SQL: sql}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// With returns a copy of q with opts applied.
func (q Query) With(opts ...QueryOption) Query {
	q.Args = append([]any(nil), q.Args...)
	q.Params = maps.Clone(q.Params)
	q.ColumnMapping = maps.Clone(q.ColumnMapping)
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// WithName labels the query.
func WithName(name string) QueryOption {
	return func(q *Query) { q.Name = name }
}

// WithArgs sets the native parameter values.
func WithArgs(args ...any) QueryOption {
	return func(q *Query) { q.Args = args }
}

// WithParam binds one {name} placeholder.
func WithParam(name string, value any) QueryOption {
	return func(q *Query) {
		if q.Params == nil {
			q.Params = make(map[string]any)
		}
		q.Params[name] = value
	}
}

// WithParams binds {name} placeholders, replacing earlier bindings of the
// same names.
func WithParams(params map[string]any) QueryOption {
	return func(q *Query) {
		if q.Params == nil {
			q.Params = make(map[string]any, len(params))
		}
		maps.Copy(q.Params, params)
	}
}

// WithParamModel declares the native parameters with m.
func WithParamModel(m record.Model) QueryOption {
	return func(q *Query) { q.ParamModel = m }
}

// WithParamRecord declares the native parameters with m and takes their
// values from v.
func WithParamRecord(m record.Model, v any) QueryOption {
	return func(q *Query) {
		q.ParamModel = m
		q.ParamRecord = v
	}
}

// WithResultModel materializes rows into m.
func WithResultModel(m record.Model) QueryOption {
	return func(q *Query) { q.ResultModel = m }
}

// WithColumnMapping renames result columns, keyed by display name.
func WithColumnMapping(mapping map[string]string) QueryOption {
	return func(q *Query) { q.ColumnMapping = mapping }
}

func (q Query) prepareOptions() []prepare.Option {
	var opts []prepare.Option
	if q.ParamModel != nil {
		opts = append(opts, prepare.WithParamModel(q.ParamModel))
	}
	if q.ResultModel != nil {
		opts = append(opts, prepare.WithResultModel(q.ResultModel))
	}
	return opts
}

func (q Query) label() string {
	if q.Name != "" {
		return q.Name
	}
	return "query"
}

// args returns the positional arguments of q for prepared statement pq.
func (q Query) args(pq *prepare.PreparedQuery) ([]any, error) {
	if q.ParamRecord != nil {
		return pq.Bind(q.ParamRecord, q.Params)
	}
	return pq.Args(q.Args, q.Params)
}
