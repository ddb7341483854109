package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// Description is the raw metadata the database reports for a statement
// without executing it.
type Description struct {
	// ParamOIDs holds the inferred type of $1..$N in positional order.
	ParamOIDs []uint32
	// Fields describes the output columns in result order.
	Fields []Field
}

// Field is one output column as reported by describe.
type Field struct {
	Name string
	// TableOID is the owning relation, 0 for computed columns.
	TableOID uint32
	// Ordinal is the attribute number within TableOID; <= 0 means the
	// column has no catalog attribute.
	Ordinal int16
	TypeOID uint32
}

// AttributeID returns the composite key of the field's catalog attribute.
func (f Field) AttributeID() AttributeID {
	return AttributeID{TableOID: f.TableOID, Ordinal: f.Ordinal}
}

// Describer reports parameter and result metadata for a statement. Server
// rejections must come back as *runtime.QueryParseError.
type Describer interface {
	Describe(ctx context.Context, query string) (*Description, error)
}

// Querier runs catalog queries. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AttributeID identifies a table column by (table OID, attribute number).
type AttributeID struct {
	TableOID uint32
	Ordinal  int16
}

// String renders the key as "table:ordinal".
func (a AttributeID) String() string {
	return fmt.Sprintf("%d:%d", a.TableOID, a.Ordinal)
}
