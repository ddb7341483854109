package catalog

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/pgtyped-go/internal/sqlfake"
)

// usersTable is relation 16384: id int4 NOT NULL, email text, status color NOT NULL.
func usersCatalog(query string, args []driver.NamedValue) (*sqlfake.Result, error) {
	attrs := map[[2]int64][]driver.Value{
		{16384, 1}: {int64(16384), int64(1), "id", true},
		{16384, 2}: {int64(16384), int64(2), "email", false},
		{16384, 3}: {int64(16384), int64(3), "status", true},
	}
	comments := map[[2]int64]string{
		{16384, 2}: "primary contact address",
	}

	var keys [][2]int64
	for i := 0; i+1 < len(args); i += 2 {
		keys = append(keys, [2]int64{args[i].Value.(int64), args[i+1].Value.(int64)})
	}

	switch {
	case strings.Contains(query, "FROM pg_attribute pa"):
		res := &sqlfake.Result{Columns: []string{"attrelid", "attnum", "attname", "attnotnull"}}
		for _, k := range keys {
			if row, ok := attrs[k]; ok {
				res.Rows = append(res.Rows, row)
			}
		}
		return res, nil
	case strings.Contains(query, "FROM pg_description pd"):
		res := &sqlfake.Result{Columns: []string{"objoid", "objsubid", "description"}}
		for _, k := range keys {
			if c, ok := comments[k]; ok {
				res.Rows = append(res.Rows, []driver.Value{k[0], k[1], c})
			}
		}
		return res, nil
	}
	return nil, errors.New("unexpected query")
}

func TestColumnResolver_PreservesDescribeOrder(t *testing.T) {
	db := sqlfake.Open(usersCatalog)
	defer db.Close()

	text := &TypeDescriptor{OID: 25, Name: "text", Category: CategoryString}
	int4 := &TypeDescriptor{OID: 23, Name: "int4", Category: CategoryNumeric}
	types := map[uint32]*TypeDescriptor{25: text, 23: int4}

	fields := []Field{
		{Name: "contact", TableOID: 16384, Ordinal: 2, TypeOID: 25},
		{Name: "id", TableOID: 16384, Ordinal: 1, TypeOID: 23},
		{Name: "total", TypeOID: 23},
		{Name: "id_again", TableOID: 16384, Ordinal: 1, TypeOID: 23},
	}

	cols, err := NewColumnResolver(db, nil).Resolve(context.Background(), fields, types)
	require.NoError(t, err)
	require.Len(t, cols, 4)

	assert.Equal(t, "contact", cols[0].Name)
	assert.Equal(t, "email", cols[0].ColumnName)
	assert.True(t, cols[0].Nullable)
	assert.Equal(t, "primary contact address", cols[0].Comment)
	assert.Same(t, text, cols[0].Type)

	assert.Equal(t, "id", cols[1].ColumnName)
	assert.False(t, cols[1].Nullable)
	assert.Empty(t, cols[1].Comment)

	assert.Equal(t, "total", cols[2].Name)
	assert.Empty(t, cols[2].ColumnName)
	assert.True(t, cols[2].Nullable)
	assert.False(t, cols[2].HasAttribute())

	assert.Equal(t, "id_again", cols[3].Name)
	assert.False(t, cols[3].Nullable)

	// One attribute batch and one comment batch, with the duplicate key
	// sent once.
	calls := db.Calls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0].Args, 4)
	assert.Len(t, calls[1].Args, 4)
}

func TestColumnResolver_SyntheticColumnsSkipCatalog(t *testing.T) {
	db := sqlfake.Open(usersCatalog)
	defer db.Close()

	fields := []Field{
		{Name: "?column?", TypeOID: 23},
		{Name: "count", TableOID: 0, Ordinal: 0, TypeOID: 20},
	}
	cols, err := NewColumnResolver(db, nil).Resolve(context.Background(), fields, nil)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.True(t, cols[0].Nullable)
	assert.Nil(t, cols[1].Type)
	assert.Empty(t, db.Calls())
}

func TestColumnResolver_MissingAttributeRowFallsBack(t *testing.T) {
	db := sqlfake.Open(usersCatalog)
	defer db.Close()

	fields := []Field{{Name: "ghost", TableOID: 99, Ordinal: 7, TypeOID: 25}}
	cols, err := NewColumnResolver(db, nil).Resolve(context.Background(), fields, nil)
	require.NoError(t, err)
	assert.Equal(t, "ghost", cols[0].Name)
	assert.Empty(t, cols[0].ColumnName)
	assert.True(t, cols[0].Nullable)
}

func TestAttributeFilter(t *testing.T) {
	filter, args := AttributeFilter("pa.attrelid", "pa.attnum", []AttributeID{
		{TableOID: 10, Ordinal: 1},
		{TableOID: 11, Ordinal: 3},
	})
	assert.Equal(t,
		"(pa.attrelid::int8 = $1 AND pa.attnum::int8 = $2) OR (pa.attrelid::int8 = $3 AND pa.attnum::int8 = $4)",
		filter)
	assert.Equal(t, []any{int64(10), int64(1), int64(11), int64(3)}, args)
	assert.Equal(t, "11:3", AttributeID{TableOID: 11, Ordinal: 3}.String())
}
