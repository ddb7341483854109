// Package record materializes result rows into generic ordered rows or
// caller-declared record types.
package record

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

// Field is one declared field of a record model.
type Field struct {
	// Name is matched against column display names.
	Name string
	Type reflect.Type
	// Required fields must have a matching column and a non-NULL value.
	Required bool
}

// Encoder is implemented by models that can turn an instance back into
// named values, as needed to bind a record as statement parameters.
type Encoder interface {
	Deconstruct(v any) (map[string]any, error)
}

// Model is the capability the materializer needs from a record type: the
// ordered field declarations and construction from named values.
type Model interface {
	// Name identifies the model in fingerprints and errors.
	Name() string
	DeclareFields() []Field
	Construct(values map[string]any) (any, error)
}

var (
	// ErrRequiredField is returned by Construct when a required field has
	// no value.
	ErrRequiredField = errors.New("required field missing")

	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// StructModel maps rows onto struct type T. Field names come from the db tag
// or, without one, the Go field name. Embedded structs are flattened.
// Pointer fields, sql.Scanner fields and fields tagged `db:"name,optional"`
// are not required.
type StructModel[T any] struct {
	name   string
	once   sync.Once
	fields []Field
	err    error
}

// For returns the struct model for T. T must be a struct type.
func For[T any]() *StructModel[T] {
	var zero T
	t := reflect.TypeOf(zero)
	name := "<nil>"
	if t != nil {
		name = t.String()
		if t.PkgPath() != "" {
			name = t.PkgPath() + "." + t.Name()
		}
	}
	return &StructModel[T]{name: name}
}

// Name returns the fully qualified Go type name.
func (m *StructModel[T]) Name() string {
	return m.name
}

// DeclareFields returns the flattened field list in declaration order.
func (m *StructModel[T]) DeclareFields() []Field {
	m.load()
	return m.fields
}

// Err reports whether T could be analyzed as a record.
func (m *StructModel[T]) Err() error {
	m.load()
	return m.err
}

func (m *StructModel[T]) load() {
	m.once.Do(func() {
		var zero T
		t := reflect.TypeOf(zero)
		if t == nil || t.Kind() != reflect.Struct {
			m.err = fmt.Errorf("record model %s is not a struct", m.name)
			return
		}
		m.fields = structFields(t)
	})
}

// Construct builds a T from values keyed by declared field name.
func (m *StructModel[T]) Construct(values map[string]any) (any, error) {
	return m.ConstructT(values)
}

// ConstructT is Construct without the interface conversion.
func (m *StructModel[T]) ConstructT(values map[string]any) (T, error) {
	var out T
	if err := m.Err(); err != nil {
		return out, err
	}
	for _, f := range m.fields {
		if !f.Required {
			continue
		}
		if v, ok := values[f.Name]; !ok || v == nil {
			return out, fmt.Errorf("%w: %s", ErrRequiredField, f.Name)
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:    "db",
		Squash:     true,
		Result:     &out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(scannerHook, convertHook),
	})
	if err != nil {
		return out, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(values); err != nil {
		return out, err
	}
	return out, nil
}

// ToMap flattens v back into a map keyed by declared field name.
func (m *StructModel[T]) ToMap(v T) (map[string]any, error) {
	if err := m.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(m.fields))
	collect(reflect.ValueOf(v), out)
	return out, nil
}

// Deconstruct is ToMap for a T or *T held in an interface.
func (m *StructModel[T]) Deconstruct(v any) (map[string]any, error) {
	switch x := v.(type) {
	case T:
		return m.ToMap(x)
	case *T:
		if x != nil {
			return m.ToMap(*x)
		}
	}
	return nil, fmt.Errorf("record model %s cannot encode %T", m.name, v)
}

func collect(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, _, skip := parseTag(sf)
		if skip || !sf.IsExported() {
			continue
		}
		if flatten(sf) {
			collect(v.Field(i), out)
			continue
		}
		out[name] = v.Field(i).Interface()
	}
}

// structFields lists the record fields of struct type t, descending into
// embedded structs.
func structFields(t reflect.Type) []Field {
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, opts, skip := parseTag(sf)
		if skip || !sf.IsExported() {
			continue
		}
		if flatten(sf) {
			fields = append(fields, structFields(sf.Type)...)
			continue
		}
		fields = append(fields, Field{
			Name:     name,
			Type:     sf.Type,
			Required: required(sf.Type, opts),
		})
	}
	return fields
}

func parseTag(sf reflect.StructField) (name string, opts []string, skip bool) {
	tag := sf.Tag.Get("db")
	if tag == "-" {
		return "", nil, true
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	opts = parts[1:]
	if name == "" && !sf.Anonymous {
		name = sf.Name
	}
	return name, opts, false
}

func flatten(sf reflect.StructField) bool {
	return sf.Anonymous && sf.Type.Kind() == reflect.Struct
}

func required(t reflect.Type, opts []string) bool {
	for _, o := range opts {
		if o == "optional" {
			return false
		}
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return false
	}
	return !reflect.PointerTo(t).Implements(scannerType)
}

// scannerHook lets sql.Null* and other Scanner fields accept plain values.
func scannerHook(from, to reflect.Type, data any) (any, error) {
	if from == to || !reflect.PointerTo(to).Implements(scannerType) {
		return data, nil
	}
	v := reflect.New(to)
	if err := v.Interface().(sql.Scanner).Scan(data); err != nil {
		return nil, err
	}
	return v.Elem().Interface(), nil
}

// convertHook converts between named and underlying scalar types, such as
// string to a string-based enum type.
func convertHook(from, to reflect.Type, data any) (any, error) {
	if from == to || from.Kind() != to.Kind() {
		return data, nil
	}
	switch to.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return reflect.ValueOf(data).Convert(to).Interface(), nil
	}
	return data, nil
}
