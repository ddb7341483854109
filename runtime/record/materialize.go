package record

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/satishbabariya/pgtyped-go/query/catalog"
	"github.com/satishbabariya/pgtyped-go/runtime"
)

type binding struct {
	field  string
	target reflect.Type
	bound  bool
}

// Materializer turns raw rows of one result set into generic rows or model
// instances. Column matching is computed once per result set.
type Materializer struct {
	model    Model
	columns  []catalog.ColumnDescriptor
	keys     []string
	bindings []binding
	missing  []string
}

// NewMaterializer prepares materialization of rows described by columns.
// rename maps display names to the keys rows should use. A nil model yields
// generic rows.
func NewMaterializer(columns []catalog.ColumnDescriptor, model Model, rename map[string]string) *Materializer {
	m := &Materializer{
		model:   model,
		columns: columns,
		keys:    make([]string, len(columns)),
	}
	for i, c := range columns {
		m.keys[i] = c.Name
		if to, ok := rename[c.Name]; ok {
			m.keys[i] = to
		}
	}
	if model != nil {
		m.bind(model.DeclareFields())
	}
	return m
}

// bind matches columns to declared fields by exact name, then
// case-insensitively. Each field takes the first column that matches.
func (m *Materializer) bind(fields []Field) {
	m.bindings = make([]binding, len(m.keys))
	taken := make(map[string]bool, len(fields))

	match := func(eq func(a, b string) bool) {
		for i, key := range m.keys {
			if m.bindings[i].bound {
				continue
			}
			for _, f := range fields {
				if taken[f.Name] || !eq(key, f.Name) {
					continue
				}
				m.bindings[i] = binding{field: f.Name, target: f.Type, bound: true}
				taken[f.Name] = true
				break
			}
		}
	}
	match(func(a, b string) bool { return a == b })
	match(strings.EqualFold)

	for _, f := range fields {
		if f.Required && !taken[f.Name] {
			m.missing = append(m.missing, f.Name)
		}
	}
}

// Keys returns the row keys in column order.
func (m *Materializer) Keys() []string {
	return m.keys
}

// Materialize converts the raw values of row index. Any failure is a
// *runtime.ResultMappingError.
func (m *Materializer) Materialize(index int, values []any) (any, error) {
	name := "row"
	if m.model != nil {
		name = m.model.Name()
	}
	if len(values) != len(m.columns) {
		return nil, &runtime.ResultMappingError{
			Model: name,
			Row:   index,
			Err:   fmt.Errorf("row has %d values for %d columns", len(values), len(m.columns)),
		}
	}

	if m.model == nil {
		row := Row{Keys: m.keys, Values: make([]any, len(values))}
		for i, v := range values {
			c, err := Coerce(v, m.columns[i].Type, nil)
			if err != nil {
				return nil, &runtime.ResultMappingError{Model: name, Row: index, Column: m.keys[i], Err: err}
			}
			row.Values[i] = c
		}
		return row, nil
	}

	if len(m.missing) > 0 {
		return nil, &runtime.ResultMappingError{
			Model: name,
			Row:   index,
			Err:   fmt.Errorf("%w: no column for %s", ErrRequiredField, strings.Join(m.missing, ", ")),
		}
	}

	named := make(map[string]any, len(values))
	for i, v := range values {
		b := m.bindings[i]
		if !b.bound {
			continue
		}
		c, err := Coerce(v, m.columns[i].Type, b.target)
		if err != nil {
			return nil, &runtime.ResultMappingError{Model: name, Row: index, Column: m.keys[i], Err: err}
		}
		named[b.field] = c
	}

	rec, err := m.model.Construct(named)
	if err != nil {
		return nil, &runtime.ResultMappingError{Model: name, Row: index, Err: err}
	}
	return rec, nil
}

// Materialize converts one raw row. It is NewMaterializer followed by a
// single Materialize call.
func Materialize(values []any, columns []catalog.ColumnDescriptor, model Model) (any, error) {
	return NewMaterializer(columns, model, nil).Materialize(0, values)
}
