package record

import (
	"bytes"
	"database/sql"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq"
	"github.com/spf13/cast"

	"github.com/satishbabariya/pgtyped-go/query/catalog"
)

var (
	numericType = reflect.TypeOf(pgtype.Numeric{})
	timeType    = reflect.TypeOf(time.Time{})
)

// Coerce converts a raw driver value according to the category of the
// column type. target is the declared field type, or nil for generic rows.
// Values of categories without a rule pass through unchanged.
func Coerce(v any, t *catalog.TypeDescriptor, target reflect.Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	target, typed := scalarTarget(target)
	if !typed {
		// Scanner fields take the driver value as-is.
		return textOf(v), nil
	}

	category := catalog.CategoryUnknown
	if t != nil {
		category = t.Category
	}

	switch category {
	case catalog.CategoryBoolean:
		return coerceBool(v, target)
	case catalog.CategoryNumeric:
		return coerceNumeric(v, t, target)
	case catalog.CategoryEnum:
		return coerceEnum(v, t, target)
	case catalog.CategoryArray:
		return coerceArray(v, t, target)
	case catalog.CategoryDateTime:
		return coerceTime(v, target)
	case catalog.CategoryString:
		return convertTo(textOf(v), target)
	}

	if t == nil && target != nil {
		return coerceByTarget(v, target)
	}
	if b, ok := v.([]byte); ok && target != nil && target.Kind() == reflect.String {
		return convertTo(string(b), target)
	}
	return v, nil
}

// coerceByTarget applies the rule of the category implied by the declared
// field type. It serves columns whose type was declared by a result model
// instead of resolved from the catalog.
func coerceByTarget(v any, target reflect.Type) (any, error) {
	switch target.Kind() {
	case reflect.Bool:
		return coerceBool(v, target)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return coerceNumeric(v, nil, target)
	case reflect.String:
		return convertTo(textOf(v), target)
	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 {
			return v, nil
		}
		return coerceArray(v, nil, target)
	}
	switch target {
	case timeType:
		return coerceTime(v, target)
	case numericType:
		return coerceNumeric(v, nil, target)
	}
	return v, nil
}

// scalarTarget strips pointers from target. typed is false when the field
// is a sql.Scanner that converts driver values itself.
func scalarTarget(target reflect.Type) (reflect.Type, bool) {
	if target == nil {
		return nil, true
	}
	for target.Kind() == reflect.Pointer {
		target = target.Elem()
	}
	if target == numericType || target == timeType {
		return target, true
	}
	if reflect.PointerTo(target).Implements(scannerType) {
		return target, false
	}
	return target, true
}

// textOf turns driver text ([]byte) into a string.
func textOf(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func coerceBool(v any, target reflect.Type) (any, error) {
	b, err := cast.ToBoolE(textOf(v))
	if err != nil {
		return nil, err
	}
	return convertTo(b, target)
}

func coerceNumeric(v any, t *catalog.TypeDescriptor, target reflect.Type) (any, error) {
	v = textOf(v)
	if target == nil {
		// Fixed-width types match what the driver returns for scalars.
		if t != nil {
			switch t.Name {
			case "int2", "int4", "int8":
				return cast.ToInt64E(v)
			case "float4", "float8":
				return cast.ToFloat64E(v)
			}
		}
		// Arbitrary-precision values arrive as text. Text that is not a
		// number, such as money, stays a string.
		if s, ok := v.(string); ok {
			var n pgtype.Numeric
			if err := n.Scan(s); err == nil {
				return n, nil
			}
		}
		return v, nil
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := cast.ToInt64E(v)
		if err != nil {
			return nil, err
		}
		return convertTo(i, target)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := cast.ToUint64E(v)
		if err != nil {
			return nil, err
		}
		return convertTo(u, target)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, err
		}
		return convertTo(f, target)
	case reflect.String:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		return convertTo(s, target)
	}

	if target == numericType {
		if n, ok := v.(pgtype.Numeric); ok {
			return n, nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		var n pgtype.Numeric
		if err := n.Scan(s); err != nil {
			return nil, err
		}
		return n, nil
	}
	return v, nil
}

func coerceEnum(v any, t *catalog.TypeDescriptor, target reflect.Type) (any, error) {
	s, err := cast.ToStringE(textOf(v))
	if err != nil {
		return nil, err
	}
	if len(t.Labels) > 0 && !t.HasLabel(s) {
		return nil, fmt.Errorf("%q is not a label of enum %s", s, t.Name)
	}
	return convertTo(s, target)
}

func coerceTime(v any, target reflect.Type) (any, error) {
	if target != nil && target.Kind() == reflect.String {
		s, err := cast.ToStringE(textOf(v))
		if err != nil {
			return nil, err
		}
		return convertTo(s, target)
	}
	if tm, ok := v.(time.Time); ok {
		return tm, nil
	}
	tm, err := cast.ToTimeE(textOf(v))
	if err != nil {
		if target == nil {
			// time of day and interval-like text have no time.Time form.
			return textOf(v), nil
		}
		return nil, err
	}
	return tm, nil
}

func coerceArray(v any, t *catalog.TypeDescriptor, target reflect.Type) (any, error) {
	elems, err := arrayElements(v)
	if err != nil {
		return nil, err
	}

	var elemTarget reflect.Type
	if target != nil && target.Kind() == reflect.Slice {
		elemTarget = target.Elem()
	}

	var elemType *catalog.TypeDescriptor
	if t != nil {
		elemType = t.Element
	}
	out := make([]any, len(elems))
	for i, e := range elems {
		var c any
		if sub, ok := e.([]any); ok {
			// Inner dimension of a multidimensional array.
			c, err = coerceArray(sub, t, elemTarget)
		} else {
			c, err = Coerce(e, elemType, elemTarget)
		}
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		out[i] = c
	}
	if elemTarget == nil {
		return out, nil
	}

	slice := reflect.MakeSlice(target, len(out), len(out))
	for i, e := range out {
		if e == nil {
			continue
		}
		ev, err := assignable(reflect.ValueOf(e), elemTarget)
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", i, err)
		}
		slice.Index(i).Set(ev)
	}
	return slice.Interface(), nil
}

// arrayElements splits an array value into its elements. Text in array
// literal form is parsed; NULL elements become nil and the inner dimensions
// of a multidimensional literal become nested []any.
func arrayElements(v any) ([]any, error) {
	var text []byte
	switch x := v.(type) {
	case []byte:
		text = x
	case string:
		text = []byte(x)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, fmt.Errorf("cannot use %T as an array", v)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}

	if parts, ok := subArrays(text); ok {
		out := make([]any, len(parts))
		for i, p := range parts {
			sub, err := arrayElements(p)
			if err != nil {
				return nil, err
			}
			out[i] = sub
		}
		return out, nil
	}

	var parsed []sql.NullString
	if err := (pq.GenericArray{A: &parsed}).Scan(text); err != nil {
		return nil, err
	}
	out := make([]any, len(parsed))
	for i, p := range parsed {
		if p.Valid {
			out[i] = p.String
		}
	}
	return out, nil
}

// subArrays splits a multidimensional array literal into the literals of its
// outer dimension. ok is false for one-dimensional literals.
func subArrays(text []byte) ([][]byte, bool) {
	s := bytes.TrimSpace(text)
	if len(s) > 0 && s[0] == '[' {
		// Dimension decoration such as [1:2][1:2]=
		if eq := bytes.IndexByte(s, '='); eq > 0 {
			s = bytes.TrimSpace(s[eq+1:])
		}
	}
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, false
	}
	inner := bytes.TrimSpace(s[1 : len(s)-1])
	if len(inner) == 0 || inner[0] != '{' {
		return nil, false
	}

	var (
		parts  [][]byte
		depth  int
		start  int
		quoted bool
	)
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		switch {
		case quoted && c == '\\':
			i++
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '{':
			depth++
		case c == '}':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, bytes.TrimSpace(inner[start:i]))
			start = i + 1
		}
	}
	return append(parts, bytes.TrimSpace(inner[start:])), true
}

// convertTo converts v to target when the kinds are compatible. A nil target
// returns v unchanged.
func convertTo(v any, target reflect.Type) (any, error) {
	if target == nil {
		return v, nil
	}
	rv, err := assignable(reflect.ValueOf(v), target)
	if err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

func assignable(rv reflect.Value, target reflect.Type) (reflect.Value, error) {
	if target.Kind() == reflect.Pointer {
		inner, err := assignable(rv, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(target.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if rv.Type().AssignableTo(target) {
		return rv, nil
	}
	if target.Kind() == reflect.Interface {
		if rv.Type().Implements(target) {
			return rv, nil
		}
	} else if rv.Kind() == target.Kind() && rv.Type().ConvertibleTo(target) {
		return rv.Convert(target), nil
	}
	if isNumberKind(rv.Kind()) && isNumberKind(target.Kind()) {
		return rv.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), target)
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
