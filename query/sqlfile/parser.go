// Package sqlfile parses files of named queries:
//
//	-- name: ListUsers :many
//	-- Users of one organization with a given status.
//	SELECT id, email FROM users WHERE org = $1 AND status = {status};
//
// Comment lines directly after the annotation document the query. Everything
// up to the next annotation is the statement.
package sqlfile

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/spf13/afero"

	"github.com/satishbabariya/pgtyped-go/query/placeholder"
)

// Command is the result shape declared by an annotation.
type Command string

const (
	// CommandNone leaves the shape undeclared.
	CommandNone Command = ""
	CommandOne  Command = "one"
	CommandMany Command = "many"
	CommandExec Command = "exec"
)

// Query is one named statement of a query file.
type Query struct {
	Name    string
	Command Command
	Doc     string
	SQL     string
	Pos     lexer.Position
}

// Placeholders returns the dynamic parameter names of the statement.
func (q Query) Placeholders() []string {
	return placeholder.Names(q.SQL)
}

// NativeParams returns the number of native $N parameters.
func (q Query) NativeParams() int {
	return placeholder.NativeCount(q.SQL)
}

// File is a parsed query file.
type File struct {
	Path    string
	Queries []Query
}

// Lookup returns the query called name.
func (f *File) Lookup(name string) (Query, bool) {
	for _, q := range f.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return Query{}, false
}

type rawFile struct {
	Preamble []string    `parser:"( @Comment | @Line )*"`
	Queries  []*rawQuery `parser:"@@*"`
}

type rawQuery struct {
	Pos        lexer.Position
	Annotation string   `parser:"@Annotation"`
	Docs       []string `parser:"@Comment*"`
	Body       []string `parser:"( @Line | @Comment )*"`
}

var parser = participle.MustBuild[rawFile](
	participle.Lexer(SQLFileLexer),
	participle.Elide("EOL"),
)

// Parse parses a query file from r.
func Parse(filename string, r io.Reader) (*File, error) {
	raw, err := parser.Parse(filename, r)
	if err != nil {
		return nil, err
	}
	return convertRawFile(filename, raw)
}

// ParseString parses a query file from a string.
func ParseString(filename, input string) (*File, error) {
	return Parse(filename, strings.NewReader(input))
}

// ParseFile reads and parses path from fs.
func ParseFile(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open query file: %w", err)
	}
	defer f.Close()
	return Parse(path, f)
}

func convertRawFile(filename string, raw *rawFile) (*File, error) {
	file := &File{Path: filename, Queries: make([]Query, 0, len(raw.Queries))}
	seen := make(map[string]lexer.Position, len(raw.Queries))

	for _, rq := range raw.Queries {
		q, err := convertRawQuery(rq)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[q.Name]; dup {
			return nil, fmt.Errorf("%s: query %q already defined at line %d", rq.Pos, q.Name, prev.Line)
		}
		seen[q.Name] = rq.Pos
		file.Queries = append(file.Queries, q)
	}
	return file, nil
}

func convertRawQuery(rq *rawQuery) (Query, error) {
	_, decl, _ := strings.Cut(rq.Annotation, "name:")
	fields := strings.Fields(decl)
	if len(fields) == 0 {
		return Query{}, fmt.Errorf("%s: annotation without a query name", rq.Pos)
	}

	q := Query{Name: fields[0], Pos: rq.Pos}
	if len(fields) > 1 {
		q.Command = Command(strings.TrimPrefix(fields[1], ":"))
		switch q.Command {
		case CommandOne, CommandMany, CommandExec:
		default:
			return Query{}, fmt.Errorf("%s: unknown command %q for query %s", rq.Pos, fields[1], q.Name)
		}
	}

	docs := make([]string, 0, len(rq.Docs))
	for _, d := range rq.Docs {
		docs = append(docs, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "--")))
	}
	q.Doc = strings.TrimSpace(strings.Join(docs, "\n"))

	sql := strings.TrimSpace(strings.Join(rq.Body, "\n"))
	sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	if sql == "" {
		return Query{}, fmt.Errorf("%s: query %s has no statement", rq.Pos, q.Name)
	}
	q.SQL = sql
	return q, nil
}
