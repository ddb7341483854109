package sqlfile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usersFile = `-- Queries for the users table.

-- name: ListUsers :many
-- Users of one organization
-- with a given status.
SELECT id, email, status
FROM users
WHERE org = $1 AND status = {status}
ORDER BY {order}, id; -- stable

-- name: GetUser :one
SELECT id, email FROM users WHERE id = $1;

-- name: Touch :exec
UPDATE users SET updated_at = now() WHERE id = $1
`

func TestParseString(t *testing.T) {
	f, err := ParseString("users.sql", usersFile)
	require.NoError(t, err)
	require.Len(t, f.Queries, 3)

	list := f.Queries[0]
	assert.Equal(t, "ListUsers", list.Name)
	assert.Equal(t, CommandMany, list.Command)
	assert.Equal(t, "Users of one organization\nwith a given status.", list.Doc)
	assert.Equal(t, "SELECT id, email, status\nFROM users\nWHERE org = $1 AND status = {status}\nORDER BY {order}, id; -- stable", list.SQL)
	assert.Equal(t, []string{"status", "order"}, list.Placeholders())
	assert.Equal(t, 1, list.NativeParams())
	assert.Equal(t, 3, list.Pos.Line)
	assert.Equal(t, "users.sql", list.Pos.Filename)

	get, ok := f.Lookup("GetUser")
	require.True(t, ok)
	assert.Equal(t, CommandOne, get.Command)
	assert.Equal(t, "SELECT id, email FROM users WHERE id = $1", get.SQL)
	assert.Empty(t, get.Doc)
	assert.Empty(t, get.Placeholders())

	touch, ok := f.Lookup("Touch")
	require.True(t, ok)
	assert.Equal(t, CommandExec, touch.Command)
	assert.Equal(t, "UPDATE users SET updated_at = now() WHERE id = $1", touch.SQL)

	_, ok = f.Lookup("Missing")
	assert.False(t, ok)
}

func TestParseString_NoCommand(t *testing.T) {
	f, err := ParseString("q.sql", "-- name: Count\nSELECT count(*) FROM users\n")
	require.NoError(t, err)
	require.Len(t, f.Queries, 1)
	assert.Equal(t, CommandNone, f.Queries[0].Command)
}

func TestParseString_Empty(t *testing.T) {
	f, err := ParseString("empty.sql", "-- nothing here\n\n")
	require.NoError(t, err)
	assert.Empty(t, f.Queries)
}

func TestParseString_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "missing name",
			input:   "-- name:\nSELECT 1\n",
			wantErr: "annotation without a query name",
		},
		{
			name:    "unknown command",
			input:   "-- name: A :batch\nSELECT 1\n",
			wantErr: `unknown command ":batch"`,
		},
		{
			name:    "empty statement",
			input:   "-- name: A\n-- only docs\n-- name: B\nSELECT 1\n",
			wantErr: "query A has no statement",
		},
		{
			name:    "duplicate",
			input:   "-- name: A\nSELECT 1;\n-- name: A\nSELECT 2;\n",
			wantErr: `query "A" already defined at line 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString("bad.sql", tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "queries/users.sql", []byte(usersFile), 0644))

	f, err := ParseFile(fs, "queries/users.sql")
	require.NoError(t, err)
	assert.Equal(t, "queries/users.sql", f.Path)
	assert.Len(t, f.Queries, 3)

	_, err = ParseFile(fs, "queries/missing.sql")
	assert.Error(t, err)
}
