package commands

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgtyped "github.com/satishbabariya/pgtyped-go"
	"github.com/satishbabariya/pgtyped-go/config"
	"github.com/satishbabariya/pgtyped-go/query/catalog"
	"github.com/satishbabariya/pgtyped-go/query/prepare"
	"github.com/satishbabariya/pgtyped-go/query/sqlfile"
	"github.com/satishbabariya/pgtyped-go/runtime/record"
)

var (
	int8Type = &catalog.TypeDescriptor{OID: 20, Name: "int8", Category: catalog.CategoryNumeric}
	textType = &catalog.TypeDescriptor{OID: 25, Name: "text", Category: catalog.CategoryString}
)

func usersPrepared() *prepare.PreparedQuery {
	return &prepare.PreparedQuery{
		Fingerprint: "abc123",
		SQL:         "SELECT id, email, upper(email) FROM users WHERE org = $1 ORDER BY $2",
		Params: []prepare.Param{
			{Position: 1, Type: int8Type},
			{Position: 2, Name: "order", Type: textType},
		},
		Columns: []catalog.ColumnDescriptor{
			{Name: "id", ColumnName: "id", TableOID: 16384, Ordinal: 1, Type: int8Type},
			{Name: "email", ColumnName: "email", TableOID: 16384, Ordinal: 2, Type: textType, Nullable: true, Comment: "login | contact"},
			{Name: "upper", Type: textType, Nullable: true},
		},
		DynamicNames:    []string{"order"},
		ValueParamCount: 1,
	}
}

func TestParamRows(t *testing.T) {
	pq := usersPrepared()
	assert.Equal(t, [][]string{
		{"1", "-", "int8"},
		{"2", "order", "text"},
	}, paramRows(pq))

	pq.Params[0] = prepare.Param{Position: 1, Name: "Org", GoType: reflect.TypeOf(int64(0))}
	assert.Equal(t, []string{"1", "Org", "int64"}, paramRows(pq)[0])
}

func TestColumnRows(t *testing.T) {
	assert.Equal(t, [][]string{
		{"id", "id", "int8", "false", ""},
		{"email", "email", "text", "true", "login | contact"},
		{"upper", "-", "text", "true", ""},
	}, columnRows(usersPrepared()))
}

func TestRecordRows(t *testing.T) {
	rows := []record.Row{
		{Keys: []string{"id", "email"}, Values: []any{int64(1), "a@example.com"}},
		{Keys: []string{"id", "email"}, Values: []any{int64(2), nil}},
	}
	assert.Equal(t, [][]string{{"1", "a@example.com"}, {"2", "NULL"}}, recordRows(rows))
}

func TestMarkdownReport(t *testing.T) {
	md := markdownReport("ListUsers", "Users of one org.", usersPrepared())

	assert.Contains(t, md, "# ListUsers\n\nUsers of one org.\n\n")
	assert.Contains(t, md, "```sql\nSELECT id, email, upper(email) FROM users WHERE org = $1 ORDER BY $2\n```")
	assert.Contains(t, md, "| $ | Name | Type |\n| --- | --- | --- |\n| 1 | - | int8 |\n| 2 | order | text |\n")
	assert.Contains(t, md, `| email | email | text | true | login \| contact |`)

	empty := &prepare.PreparedQuery{SQL: "UPDATE t SET x = 1"}
	md = markdownReport("Touch", "", empty)
	assert.Contains(t, md, "## Parameters\n\nNone.")
	assert.Contains(t, md, "The statement returns no rows.")
}

func TestJSONDescription(t *testing.T) {
	out, err := jsonDescription("ListUsers", usersPrepared())
	require.NoError(t, err)

	var got jsonReport
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "ListUsers", got.Name)
	assert.Equal(t, "abc123", got.Fingerprint)
	assert.Equal(t, []jsonParam{{Position: 1, Type: "int8"}, {Position: 2, Name: "order", Type: "text"}}, got.Params)
	require.Len(t, got.Columns, 3)
	assert.Equal(t, jsonColumn{Name: "upper", Type: "text", Nullable: true}, got.Columns[2])
}

func TestNilBindings(t *testing.T) {
	q := sqlfile.Query{SQL: "SELECT * FROM t WHERE a = {a} AND b = {b} OR a = {a}"}
	assert.Equal(t, map[string]any{"a": nil, "b": nil}, nilBindings(q))
}

func TestCommandMismatch(t *testing.T) {
	noRows := &prepare.PreparedQuery{}
	assert.NoError(t, commandMismatch(sqlfile.Query{Name: "A", Command: sqlfile.CommandExec}, noRows))
	assert.NoError(t, commandMismatch(sqlfile.Query{Name: "A"}, noRows))
	assert.NoError(t, commandMismatch(sqlfile.Query{Name: "A", Command: sqlfile.CommandMany}, usersPrepared()))

	err := commandMismatch(sqlfile.Query{Name: "A", Command: sqlfile.CommandOne}, noRows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared :one but returns no columns")
}

func TestQueryFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, p := range []string{"queries/b.sql", "queries/a.sql", "other/c.sql", "queries/readme.md"} {
		require.NoError(t, afero.WriteFile(fs, p, []byte("-- name: X\nSELECT 1\n"), 0644))
	}

	files, err := queryFiles(fs, nil, &config.Config{Queries: []string{"queries/*.sql", "queries/a.sql"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"queries/a.sql", "queries/b.sql"}, files)

	files, err = queryFiles(fs, []string{"other/*.sql"}, &config.Config{Queries: []string{"queries/*.sql"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"other/c.sql"}, files)

	_, err = queryFiles(fs, nil, &config.Config{})
	assert.Error(t, err)

	_, err = queryFiles(fs, []string{"missing/*.sql"}, &config.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files match")
}

type fakePreparer struct {
	fail map[string]error
	seen []pgtyped.Query
}

func (f *fakePreparer) Prepare(_ context.Context, q pgtyped.Query) (*prepare.PreparedQuery, error) {
	f.seen = append(f.seen, q)
	if err := f.fail[q.Name]; err != nil {
		return nil, err
	}
	if q.Name == "Touch" {
		return &prepare.PreparedQuery{SQL: q.SQL}, nil
	}
	return usersPrepared(), nil
}

func TestCheckFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `-- name: ListUsers :many
SELECT id, email FROM users WHERE org = $1 ORDER BY {order};

-- name: Broken :many
SELEC 1;

-- name: Touch :one
UPDATE users SET touched = now();
`
	require.NoError(t, afero.WriteFile(fs, "q.sql", []byte(content), 0644))

	p := &fakePreparer{fail: map[string]error{"Broken": errors.New("syntax error")}}
	results := checkFile(context.Background(), fs, p, "q.sql")

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "syntax error")
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "declared :one")

	require.Len(t, p.seen, 3)
	assert.Equal(t, "ListUsers", p.seen[0].Name)
	assert.Equal(t, map[string]any{"order": nil}, p.seen[0].Params)
}

func TestCheckFile_ParseError(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.sql", []byte("-- name: A :batch\nSELECT 1\n"), 0644))

	p := &fakePreparer{}
	results := checkFile(context.Background(), fs, p, "bad.sql")
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Query)
	assert.Error(t, results[0].Err)
	assert.Empty(t, p.seen)
}
