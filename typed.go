package pgtyped

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/satishbabariya/pgtyped-go/runtime/record"
)

var models sync.Map // reflect.Type -> record.Model

// ModelFor returns the shared struct model of T.
func ModelFor[T any]() record.Model {
	key := reflect.TypeOf((*T)(nil)).Elem()
	if m, ok := models.Load(key); ok {
		return m.(record.Model)
	}
	m, _ := models.LoadOrStore(key, record.For[T]())
	return m.(record.Model)
}

// QueryAs executes q and materializes every row into a T. q's result model
// is replaced by the model of T.
func QueryAs[T any](ctx context.Context, db Querier, q Query) ([]T, error) {
	model := ModelFor[T]()
	if err := modelErr(model); err != nil {
		return nil, err
	}
	res, err := db.Execute(ctx, q.With(WithResultModel(model)))
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, res.Len())
	for _, rec := range res.Records {
		v, ok := rec.(T)
		if !ok {
			return nil, fmt.Errorf("record of type %T is not a %s", rec, model.Name())
		}
		out = append(out, v)
	}
	return out, nil
}

// GetAs returns the first row of q as a T, or runtime.ErrNotFound.
func GetAs[T any](ctx context.Context, db Querier, q Query) (T, error) {
	var zero T
	model := ModelFor[T]()
	if err := modelErr(model); err != nil {
		return zero, err
	}
	rec, err := db.Get(ctx, q.With(WithResultModel(model)))
	if err != nil {
		return zero, err
	}
	v, ok := rec.(T)
	if !ok {
		return zero, fmt.Errorf("record of type %T is not a %s", rec, model.Name())
	}
	return v, nil
}

func modelErr(m record.Model) error {
	if e, ok := m.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
