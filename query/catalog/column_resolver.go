package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/satishbabariya/pgtyped-go/internal/debug"
	"github.com/satishbabariya/pgtyped-go/runtime"
)

const attributesQuery = `
SELECT pa.attrelid::int8, pa.attnum::int8, pa.attname::text, pa.attnotnull
FROM pg_attribute pa
WHERE %s`

const commentsQuery = `
SELECT pd.objoid::int8, pd.objsubid::int8, pd.description::text
FROM pg_description pd
WHERE pd.classoid = 'pg_class'::regclass AND (%s)`

// ColumnDescriptor describes one output column of a prepared statement.
type ColumnDescriptor struct {
	// Name is the display name reported by describe, aliases included.
	Name string
	// ColumnName is the catalog attribute name, empty for computed columns.
	ColumnName string
	TableOID   uint32
	Ordinal    int16
	// Type is nil when a result model supplies the column type instead.
	Type     *TypeDescriptor
	Nullable bool
	Comment  string
}

// AttributeID returns the column's catalog key.
func (c ColumnDescriptor) AttributeID() AttributeID {
	return AttributeID{TableOID: c.TableOID, Ordinal: c.Ordinal}
}

// HasAttribute reports whether the column maps to a table attribute.
func (c ColumnDescriptor) HasAttribute() bool {
	return c.TableOID != 0 && c.Ordinal > 0
}

type attribute struct {
	name    string
	notNull bool
}

// ColumnResolver joins describe output with pg_attribute and pg_description.
type ColumnResolver struct {
	q   Querier
	log *slog.Logger
}

// NewColumnResolver creates a resolver issuing catalog queries through q.
func NewColumnResolver(q Querier, logger *slog.Logger) *ColumnResolver {
	return &ColumnResolver{q: q, log: debug.Component("column-resolver", logger)}
}

// Resolve builds one ColumnDescriptor per field, in field order. Fields with
// an ordinal <= 0 skip the catalog lookup and are reported nullable under
// their describe name. types supplies the resolved type for each field's
// TypeOID; a missing entry leaves Type nil.
func (r *ColumnResolver) Resolve(ctx context.Context, fields []Field, types map[uint32]*TypeDescriptor) ([]ColumnDescriptor, error) {
	ids := attributeIDs(fields)

	var (
		attrs    map[AttributeID]attribute
		comments map[AttributeID]string
		err      error
	)
	if len(ids) > 0 {
		r.log.Debug("resolving column attributes", "fields", len(fields), "attributes", len(ids))
		if attrs, err = r.attributes(ctx, ids); err != nil {
			return nil, err
		}
		if comments, err = r.comments(ctx, ids); err != nil {
			return nil, err
		}
	}

	out := make([]ColumnDescriptor, len(fields))
	for i, f := range fields {
		col := ColumnDescriptor{
			Name:     f.Name,
			TableOID: f.TableOID,
			Ordinal:  f.Ordinal,
			Type:     types[f.TypeOID],
			Nullable: true,
		}
		if col.HasAttribute() {
			id := f.AttributeID()
			if a, ok := attrs[id]; ok {
				col.ColumnName = a.name
				col.Nullable = !a.notNull
			}
			col.Comment = comments[id]
		}
		out[i] = col
	}
	return out, nil
}

func (r *ColumnResolver) attributes(ctx context.Context, ids []AttributeID) (map[AttributeID]attribute, error) {
	filter, args := AttributeFilter("pa.attrelid", "pa.attnum", ids)
	query := fmt.Sprintf(attributesQuery, filter)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, runtime.Classify(runtime.StageCatalog, query, err)
	}
	defer rows.Close()

	out := make(map[AttributeID]attribute, len(ids))
	for rows.Next() {
		var (
			relid, num int64
			a          attribute
		)
		if err := rows.Scan(&relid, &num, &a.name, &a.notNull); err != nil {
			return nil, runtime.Classify(runtime.StageCatalog, query, fmt.Errorf("failed to scan attribute row: %w", err))
		}
		out[AttributeID{TableOID: uint32(relid), Ordinal: int16(num)}] = a
	}
	if err := rows.Err(); err != nil {
		return nil, runtime.Classify(runtime.StageCatalog, query, err)
	}
	return out, nil
}

func (r *ColumnResolver) comments(ctx context.Context, ids []AttributeID) (map[AttributeID]string, error) {
	filter, args := AttributeFilter("pd.objoid", "pd.objsubid", ids)
	query := fmt.Sprintf(commentsQuery, filter)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, runtime.Classify(runtime.StageCatalog, query, err)
	}
	defer rows.Close()

	out := make(map[AttributeID]string)
	for rows.Next() {
		var (
			objoid, subid int64
			text          sql.NullString
		)
		if err := rows.Scan(&objoid, &subid, &text); err != nil {
			return nil, runtime.Classify(runtime.StageCatalog, query, fmt.Errorf("failed to scan comment row: %w", err))
		}
		if text.Valid {
			out[AttributeID{TableOID: uint32(objoid), Ordinal: int16(subid)}] = text.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, runtime.Classify(runtime.StageCatalog, query, err)
	}
	return out, nil
}

// AttributeFilter renders a disjunction matching every id on the two key
// columns, with positional arguments in the same order.
func AttributeFilter(tableCol, ordinalCol string, ids []AttributeID) (string, []any) {
	parts := make([]string, len(ids))
	args := make([]any, 0, len(ids)*2)
	for i, id := range ids {
		parts[i] = fmt.Sprintf("(%s::int8 = $%d AND %s::int8 = $%d)", tableCol, 2*i+1, ordinalCol, 2*i+2)
		args = append(args, int64(id.TableOID), int64(id.Ordinal))
	}
	return strings.Join(parts, " OR "), args
}

// attributeIDs lists the distinct catalog keys of fields backed by a table
// attribute, in first-seen order.
func attributeIDs(fields []Field) []AttributeID {
	seen := make(map[AttributeID]struct{}, len(fields))
	var ids []AttributeID
	for _, f := range fields {
		if f.TableOID == 0 || f.Ordinal <= 0 {
			continue
		}
		id := f.AttributeID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
