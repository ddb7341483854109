// Package placeholder rewrites {name} dynamic parameters into PostgreSQL
// positional markers.
//
// Two placeholder syntaxes coexist in caller SQL. Value parameters are native
// $N markers whose types the database infers at describe time; they are left
// untouched. Dynamic parameters are written {name} and are replaced here by the
// next unused $N, so the statement handed to the database never contains a
// brace placeholder.
//
// Numbering is deterministic: distinct names are numbered in order of first
// appearance, starting after the highest $N already present. Text inside
// string literals, quoted identifiers, comments and dollar-quoted bodies is
// copied verbatim, so literals such as '{1,2}' are not placeholders.
package placeholder

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/satishbabariya/pgtyped-go/runtime"
)

// Rewritten is the result of rewriting one statement.
type Rewritten struct {
	// SQL is the statement with every {name} replaced by $N.
	SQL string
	// Names lists distinct dynamic parameter names by assigned position.
	Names []string
	// Values holds the bound value of Names[i] at index i.
	Values []any
	// Offset is the highest native $N present before rewriting. Names[i] is
	// bound to $(Offset+i+1).
	Offset int
}

// Position returns the marker number assigned to name, or 0.
func (r *Rewritten) Position(name string) int {
	for i, n := range r.Names {
		if n == name {
			return r.Offset + i + 1
		}
	}
	return 0
}

// Rewrite replaces dynamic placeholders in query with positional markers.
// It fails with *runtime.MissingParameterError when a referenced name has no
// entry in params, or when query contains an empty {}; params may contain
// unused names.
func Rewrite(query string, params map[string]any) (*Rewritten, error) {
	toks, offset := scan(query)

	out := &Rewritten{Offset: offset}
	if len(toks) == 0 {
		out.SQL = query
		return out, nil
	}

	assigned := make(map[string]int, len(toks))
	var b strings.Builder
	b.Grow(len(query) + len(toks)*2)
	last := 0

	for _, t := range toks {
		pos, ok := assigned[t.name]
		if !ok {
			val, bound := params[t.name]
			if !bound || t.name == "" {
				return nil, &runtime.MissingParameterError{Name: t.name}
			}
			out.Names = append(out.Names, t.name)
			out.Values = append(out.Values, val)
			pos = offset + len(out.Names)
			assigned[t.name] = pos
		}
		b.WriteString(query[last:t.start])
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(pos))
		last = t.end
	}
	b.WriteString(query[last:])
	out.SQL = b.String()
	return out, nil
}

// Names returns the distinct dynamic parameter names in query in order of
// first appearance, without binding them.
func Names(query string) []string {
	toks, _ := scan(query)
	seen := make(map[string]struct{}, len(toks))
	var names []string
	for _, t := range toks {
		if _, ok := seen[t.name]; ok || t.name == "" {
			continue
		}
		seen[t.name] = struct{}{}
		names = append(names, t.name)
	}
	return names
}

// NativeCount returns the highest native $N marker in query.
func NativeCount(query string) int {
	_, n := scan(query)
	return n
}

type token struct {
	name  string
	start int
	end   int
}

// scan walks query once, collecting {name} tokens and the highest $N marker.
func scan(query string) ([]token, int) {
	var (
		toks    []token
		highest int
	)
	i := 0
	for i < len(query) {
		c := query[i]
		switch c {
		case '\'':
			if escapePrefixed(query, i) {
				i = skipEscapeString(query, i+1)
			} else {
				i = skipQuoted(query, i+1, '\'')
			}
			continue
		case '"':
			i = skipQuoted(query, i+1, '"')
			continue
		case '-':
			if strings.HasPrefix(query[i:], "--") {
				i = skipLineComment(query, i+2)
				continue
			}
		case '/':
			if strings.HasPrefix(query[i:], "/*") {
				i = skipBlockComment(query, i+2)
				continue
			}
		case '$':
			if n, end, ok := parseMarker(query, i); ok {
				if n > highest {
					highest = n
				}
				i = end
				continue
			}
			if end, ok := skipDollarQuoted(query, i); ok {
				i = end
				continue
			}
		case '{':
			// An empty {} is kept as a nameless token so Rewrite rejects it.
			if rb := strings.IndexByte(query[i+1:], '}'); rb >= 0 {
				end := i + 1 + rb + 1
				toks = append(toks, token{name: query[i+1 : end-1], start: i, end: end})
				i = end
				continue
			}
		}
		i++
	}
	return toks, highest
}

// skipQuoted returns the index after the closing quote, treating a doubled
// quote as an escape. An unterminated literal runs to the end of input.
func skipQuoted(s string, i int, quote byte) int {
	for i < len(s) {
		if s[i] == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

// escapePrefixed reports whether the quote at i opens an E'...' string: it
// follows an E or e that does not end a longer identifier.
func escapePrefixed(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(s[i-2])
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// skipEscapeString returns the index after the closing quote of an E'...'
// string, where a backslash escapes the next byte.
func skipEscapeString(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case '\'':
			if i+1 < len(s) && s[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

func skipLineComment(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlockComment(s string, i int) int {
	if j := strings.Index(s[i:], "*/"); j >= 0 {
		return i + j + 2
	}
	return len(s)
}

// parseMarker reads a native $N marker at i.
func parseMarker(s string, i int) (n, end int, ok bool) {
	j := i + 1
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	if j == i+1 {
		return 0, 0, false
	}
	n, err := strconv.Atoi(s[i+1 : j])
	if err != nil {
		return 0, 0, false
	}
	return n, j, true
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$ bodies.
func skipDollarQuoted(s string, i int) (int, bool) {
	j := i + 1
	for j < len(s) {
		r, w := utf8.DecodeRuneInString(s[j:])
		if r == '$' {
			break
		}
		if !(r == '_' || unicode.IsLetter(r) || (j > i+1 && unicode.IsDigit(r))) {
			return 0, false
		}
		j += w
	}
	if j >= len(s) {
		return 0, false
	}
	tag := s[i : j+1]
	k := strings.Index(s[j+1:], tag)
	if k < 0 {
		return len(s), true
	}
	return j + 1 + k + len(tag), true
}
