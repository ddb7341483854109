package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/pgtyped-go/internal/sqlfake"
	"github.com/satishbabariya/pgtyped-go/runtime"
)

var typeColumns = []string{"oid", "typname", "typtype", "enumlabel", "typelem", "typcategory", "typrelid"}

type fakeType struct {
	oid      int64
	name     string
	kind     string
	labels   []string
	elem     int64
	category string
	relid    int64
}

type fakeAttr struct {
	relid int64
	name  string
	typ   int64
}

// fakeCatalog answers the type and composite attribute queries from an
// in-memory pg_type.
type fakeCatalog struct {
	types map[int64]fakeType
	attrs []fakeAttr
}

func (c *fakeCatalog) handler(query string, args []driver.NamedValue) (*sqlfake.Result, error) {
	switch {
	case strings.Contains(query, "FROM pg_type pt"):
		requested := *(args[0].Value.(*pq.Int64Array))
		want := map[int64]bool{}
		for _, oid := range requested {
			want[oid] = true
			if t, ok := c.types[oid]; ok && t.elem != 0 {
				want[t.elem] = true
			}
		}
		res := &sqlfake.Result{Columns: typeColumns}
		for _, oid := range sortedKeys(want) {
			t, ok := c.types[oid]
			if !ok {
				continue
			}
			if len(t.labels) == 0 {
				res.Rows = append(res.Rows, []driver.Value{t.oid, t.name, t.kind, nil, t.elem, t.category, t.relid})
				continue
			}
			for _, l := range t.labels {
				res.Rows = append(res.Rows, []driver.Value{t.oid, t.name, t.kind, l, t.elem, t.category, t.relid})
			}
		}
		return res, nil
	case strings.Contains(query, "FROM pg_attribute pa"):
		relids := *(args[0].Value.(*pq.Int64Array))
		res := &sqlfake.Result{Columns: []string{"attrelid", "attname", "atttypid"}}
		for _, relid := range relids {
			for _, a := range c.attrs {
				if a.relid == relid {
					res.Rows = append(res.Rows, []driver.Value{a.relid, a.name, a.typ})
				}
			}
		}
		return res, nil
	}
	return nil, errors.New("unexpected query: " + query)
}

func sortedKeys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func newCatalog() *fakeCatalog {
	return &fakeCatalog{types: map[int64]fakeType{
		16:   {oid: 16, name: "bool", kind: "b", category: "B"},
		23:   {oid: 23, name: "int4", kind: "b", category: "N"},
		25:   {oid: 25, name: "text", kind: "b", category: "S"},
		100:  {oid: 100, name: "color", kind: "e", labels: []string{"red", "blue"}, category: "E"},
		1000: {oid: 1000, name: "_color", kind: "b", elem: 100, category: "A"},
		1007: {oid: 1007, name: "_int4", kind: "b", elem: 23, category: "A"},
		300:  {oid: 300, name: "address", kind: "c", category: "C", relid: 5000},
	}, attrs: []fakeAttr{
		{relid: 5000, name: "street", typ: 25},
		{relid: 5000, name: "zip", typ: 23},
	}}
}

func TestTypeResolver_EnumAggregation(t *testing.T) {
	db := sqlfake.Open(newCatalog().handler)
	defer db.Close()

	r := NewTypeResolver(db, nil, nil)
	types, err := r.Resolve(context.Background(), []uint32{100})
	require.NoError(t, err)

	color := types[100]
	require.NotNil(t, color)
	assert.Equal(t, "color", color.Name)
	assert.Equal(t, CategoryEnum, color.Category)
	assert.Equal(t, []string{"red", "blue"}, color.Labels)
	assert.True(t, color.IsEnum())
	assert.True(t, color.HasLabel("blue"))
	assert.False(t, color.HasLabel("green"))
}

func TestTypeResolver_ArrayElementIsResolvedDescriptor(t *testing.T) {
	db := sqlfake.Open(newCatalog().handler)
	defer db.Close()

	r := NewTypeResolver(db, nil, nil)
	types, err := r.Resolve(context.Background(), []uint32{1000})
	require.NoError(t, err)

	arr := types[1000]
	require.NotNil(t, arr)
	assert.Equal(t, CategoryArray, arr.Category)
	require.NotNil(t, arr.Element)
	assert.Equal(t, []string{"red", "blue"}, arr.Element.Labels)
	assert.Equal(t, "color[]", arr.String())

	enum, ok := r.Cache().Get(100)
	require.True(t, ok)
	assert.Same(t, enum, arr.Element)
	assert.Equal(t, 1, db.CountContaining("FROM pg_type pt"))
}

func TestTypeResolver_EmptyInputIssuesNoQuery(t *testing.T) {
	db := sqlfake.Open(newCatalog().handler)
	defer db.Close()

	types, err := NewTypeResolver(db, nil, nil).Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, types)
	assert.Empty(t, db.Calls())
}

func TestTypeResolver_CachedTypesAreNotRequeried(t *testing.T) {
	db := sqlfake.Open(newCatalog().handler)
	defer db.Close()

	r := NewTypeResolver(db, nil, nil)
	first, err := r.Resolve(context.Background(), []uint32{23, 25, 23})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := r.Resolve(context.Background(), []uint32{25, 23})
	require.NoError(t, err)
	assert.Same(t, first[23], second[23])
	assert.Equal(t, 1, db.CountContaining("FROM pg_type pt"))

	_, err = r.Resolve(context.Background(), []uint32{23, 16})
	require.NoError(t, err)
	calls := db.Calls()
	last := *(calls[len(calls)-1].Args[0].(*pq.Int64Array))
	assert.Equal(t, pq.Int64Array{16}, last)
}

func TestTypeResolver_Composite(t *testing.T) {
	db := sqlfake.Open(newCatalog().handler)
	defer db.Close()

	r := NewTypeResolver(db, nil, nil)
	types, err := r.Resolve(context.Background(), []uint32{300})
	require.NoError(t, err)

	addr := types[300]
	require.Len(t, addr.Fields, 2)
	assert.Equal(t, "street", addr.Fields[0].Name)
	assert.Equal(t, "text", addr.Fields[0].Type.Name)
	assert.Equal(t, "zip", addr.Fields[1].Name)
	assert.Equal(t, CategoryNumeric, addr.Fields[1].Type.Category)
}

func TestTypeResolver_UnknownOID(t *testing.T) {
	db := sqlfake.Open(newCatalog().handler)
	defer db.Close()

	r := NewTypeResolver(db, nil, nil)
	_, err := r.Resolve(context.Background(), []uint32{23, 99999})
	require.Error(t, err)
	assert.True(t, errors.Is(err, runtime.ErrTypeResolution))

	var tre *runtime.TypeResolutionError
	require.True(t, errors.As(err, &tre))
	assert.Equal(t, []uint32{99999}, tre.OIDs)

	// The resolvable half is still published.
	_, ok := r.Cache().Get(23)
	assert.True(t, ok)
}

func TestTypeResolver_CatalogFailureIsClassified(t *testing.T) {
	db := sqlfake.Open(func(string, []driver.NamedValue) (*sqlfake.Result, error) {
		return nil, &pq.Error{Code: "42501", Message: "permission denied for table pg_type"}
	})
	defer db.Close()

	_, err := NewTypeResolver(db, nil, nil).Resolve(context.Background(), []uint32{23})
	require.Error(t, err)

	var qpe *runtime.QueryParseError
	require.True(t, errors.As(err, &qpe))
	assert.Equal(t, "42501", qpe.Code)
}

func TestTypeResolver_ConcurrentResolutionSharesDescriptors(t *testing.T) {
	db := sqlfake.Open(newCatalog().handler)
	defer db.Close()

	r := NewTypeResolver(db, nil, nil)
	const n = 16
	results := make([]*TypeDescriptor, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			types, err := r.Resolve(context.Background(), []uint32{1007})
			if err == nil {
				results[i] = types[1007]
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.NotNil(t, results[i])
		assert.Same(t, results[0], results[i])
	}
	assert.Same(t, results[0].Element, mustGet(t, r.Cache(), 23))
}

func mustGet(t *testing.T, c *TypeCache, oid uint32) *TypeDescriptor {
	t.Helper()
	d, ok := c.Get(oid)
	require.True(t, ok)
	return d
}

func TestReduceTypeRows(t *testing.T) {
	rows := []TypeRow{
		{OID: 100, Name: "color", Kind: KindEnum, Category: "E", EnumLabel: nullString("red")},
		{OID: 100, Name: "color", Kind: KindEnum, Category: "E", EnumLabel: nullString("blue")},
		{OID: 200, Name: "mood", Kind: KindEnum, Category: "E"},
		{OID: 23, Name: "int4", Kind: KindBase, Category: "N"},
	}
	built, order := reduceTypeRows(rows)
	assert.Equal(t, []uint32{100, 200, 23}, order)
	assert.Equal(t, []string{"red", "blue"}, built[100].desc.Labels)
	assert.Empty(t, built[200].desc.Labels)
	assert.Equal(t, CategoryEnum, built[200].desc.Category)
	assert.Equal(t, CategoryNumeric, built[23].desc.Category)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func TestCategoryFromCode(t *testing.T) {
	assert.Equal(t, CategoryDateTime, CategoryFromCode("D"))
	assert.Equal(t, CategoryBitString, CategoryFromCode("V"))
	assert.Equal(t, CategoryUnknown, CategoryFromCode("Z"))
	assert.Equal(t, CategoryUnknown, CategoryFromCode(""))
}
