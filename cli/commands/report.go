package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/satishbabariya/pgtyped-go/query/prepare"
	"github.com/satishbabariya/pgtyped-go/query/sqlfile"
	"github.com/satishbabariya/pgtyped-go/runtime/record"
)

var (
	paramHeaders  = []string{"$", "Name", "Type"}
	columnHeaders = []string{"Column", "Source", "Type", "Nullable", "Comment"}
)

func paramType(p prepare.Param) string {
	if p.GoType != nil {
		return p.GoType.String()
	}
	return p.Type.String()
}

func columnSource(c columnInfo) string {
	if c.ColumnName == "" {
		return "-"
	}
	return c.ColumnName
}

type columnInfo struct {
	Name       string
	ColumnName string
	Type       string
	Nullable   bool
	Comment    string
}

func columnsOf(pq *prepare.PreparedQuery) []columnInfo {
	cols := make([]columnInfo, len(pq.Columns))
	for i, c := range pq.Columns {
		cols[i] = columnInfo{
			Name:       c.Name,
			ColumnName: c.ColumnName,
			Type:       c.Type.String(),
			Nullable:   c.Nullable,
			Comment:    c.Comment,
		}
	}
	return cols
}

func paramRows(pq *prepare.PreparedQuery) [][]string {
	rows := make([][]string, len(pq.Params))
	for i, p := range pq.Params {
		name := p.Name
		if name == "" {
			name = "-"
		}
		rows[i] = []string{strconv.Itoa(p.Position), name, paramType(p)}
	}
	return rows
}

func columnRows(pq *prepare.PreparedQuery) [][]string {
	cols := columnsOf(pq)
	rows := make([][]string, len(cols))
	for i, c := range cols {
		rows[i] = []string{c.Name, columnSource(c), c.Type, strconv.FormatBool(c.Nullable), c.Comment}
	}
	return rows
}

func recordRows(rows []record.Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		cells := make([]string, len(r.Values))
		for j, v := range r.Values {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out
}

func markdownTable(headers []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.ReplaceAll(c, "|", `\|`)
		}
		b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	return b.String()
}

// markdownReport documents one prepared statement.
func markdownReport(title, doc string, pq *prepare.PreparedQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if doc != "" {
		b.WriteString(doc + "\n\n")
	}
	b.WriteString("```sql\n" + pq.SQL + "\n```\n\n")

	b.WriteString("## Parameters\n\n")
	if len(pq.Params) == 0 {
		b.WriteString("None.\n\n")
	} else {
		b.WriteString(markdownTable(paramHeaders, paramRows(pq)) + "\n")
	}

	b.WriteString("## Columns\n\n")
	if len(pq.Columns) == 0 {
		b.WriteString("The statement returns no rows.\n")
	} else {
		b.WriteString(markdownTable(columnHeaders, columnRows(pq)))
	}
	return b.String()
}

type jsonParam struct {
	Position int    `json:"position"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type"`
}

type jsonColumn struct {
	Name       string `json:"name"`
	ColumnName string `json:"column_name,omitempty"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	Comment    string `json:"comment,omitempty"`
}

type jsonReport struct {
	Name        string       `json:"name,omitempty"`
	Fingerprint string       `json:"fingerprint"`
	SQL         string       `json:"sql"`
	Params      []jsonParam  `json:"params"`
	Columns     []jsonColumn `json:"columns"`
}

func jsonDescription(name string, pq *prepare.PreparedQuery) ([]byte, error) {
	rep := jsonReport{
		Name:        name,
		Fingerprint: pq.Fingerprint,
		SQL:         pq.SQL,
		Params:      make([]jsonParam, len(pq.Params)),
		Columns:     make([]jsonColumn, 0, len(pq.Columns)),
	}
	for i, p := range pq.Params {
		rep.Params[i] = jsonParam{Position: p.Position, Name: p.Name, Type: paramType(p)}
	}
	for _, c := range columnsOf(pq) {
		rep.Columns = append(rep.Columns, jsonColumn(c))
	}
	return json.MarshalIndent(rep, "", "  ")
}

// nilBindings binds every dynamic placeholder of q to NULL so the statement
// can be described without caller values.
func nilBindings(q sqlfile.Query) map[string]any {
	names := q.Placeholders()
	params := make(map[string]any, len(names))
	for _, n := range names {
		params[n] = nil
	}
	return params
}

// commandMismatch reports a declared result shape the statement cannot have.
func commandMismatch(q sqlfile.Query, pq *prepare.PreparedQuery) error {
	switch q.Command {
	case sqlfile.CommandOne, sqlfile.CommandMany:
		if len(pq.Columns) == 0 {
			return fmt.Errorf("query %s is declared :%s but returns no columns", q.Name, q.Command)
		}
	}
	return nil
}
