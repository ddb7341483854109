// Package prepare turns raw SQL into cached, immutable prepared queries by
// describing the statement and resolving its types from the catalog.
package prepare

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/satishbabariya/pgtyped-go/query/catalog"
	"github.com/satishbabariya/pgtyped-go/runtime"
	"github.com/satishbabariya/pgtyped-go/runtime/record"
)

// ErrArgumentCount is returned when a statement is bound with the wrong
// number of value arguments.
var ErrArgumentCount = errors.New("wrong number of value arguments")

// State is the preparation state of one fingerprint.
type State int

const (
	Unprepared State = iota
	Preparing
	Prepared
)

func (s State) String() string {
	switch s {
	case Unprepared:
		return "unprepared"
	case Preparing:
		return "preparing"
	case Prepared:
		return "prepared"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Param is one positional parameter of a prepared statement.
type Param struct {
	// Position is the 1-based $N marker.
	Position int
	// Name is the dynamic placeholder name, or the declared field name when a
	// parameter model supplies the value parameters.
	Name string
	// Type is the resolved catalog type. It is nil for parameters declared by
	// a parameter model.
	Type *catalog.TypeDescriptor
	// GoType is the declared field type for parameters of a parameter model.
	GoType reflect.Type
}

// Dynamic reports whether the parameter came from a {name} placeholder.
func (p Param) Dynamic() bool {
	return p.Name != "" && p.GoType == nil
}

// PreparedQuery is the immutable result of preparation. It is shared by
// every caller preparing the same fingerprint and must not be modified.
type PreparedQuery struct {
	Fingerprint string
	// Raw is the SQL as supplied by the caller.
	Raw string
	// SQL is the native statement with every {name} replaced by $N.
	SQL     string
	Params  []Param
	Columns []catalog.ColumnDescriptor
	// DynamicNames lists dynamic placeholders in the order of their markers.
	DynamicNames []string
	// ValueParamCount is the number of native markers present in Raw; value
	// arguments fill $1..$ValueParamCount.
	ValueParamCount int
	ParamModel      record.Model
	ResultModel     record.Model
}

// Args returns the positional arguments for one execution: value arguments
// first, then the dynamic values in marker order.
func (q *PreparedQuery) Args(values []any, dynamic map[string]any) ([]any, error) {
	if len(values) != q.ValueParamCount {
		return nil, fmt.Errorf("%w: statement takes %d, got %d", ErrArgumentCount, q.ValueParamCount, len(values))
	}
	args := make([]any, 0, q.ValueParamCount+len(q.DynamicNames))
	args = append(args, values...)
	for _, name := range q.DynamicNames {
		v, ok := dynamic[name]
		if !ok {
			return nil, &runtime.MissingParameterError{Name: name}
		}
		args = append(args, v)
	}
	return args, nil
}

// Bind is Args with value arguments taken from a parameter record, in the
// declaration order of the parameter model.
func (q *PreparedQuery) Bind(params any, dynamic map[string]any) ([]any, error) {
	if q.ParamModel == nil {
		return nil, errors.New("statement has no parameter model")
	}
	enc, ok := q.ParamModel.(record.Encoder)
	if !ok {
		return nil, fmt.Errorf("parameter model %s cannot encode records", q.ParamModel.Name())
	}
	named, err := enc.Deconstruct(params)
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, q.ValueParamCount)
	for _, p := range q.Params[:q.ValueParamCount] {
		values = append(values, named[p.Name])
	}
	return q.Args(values, dynamic)
}

// ColumnNames returns the display names of the result columns in order.
func (q *PreparedQuery) ColumnNames() []string {
	names := make([]string, len(q.Columns))
	for i, c := range q.Columns {
		names[i] = c.Name
	}
	return names
}
