package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lib/pq"

	"github.com/satishbabariya/pgtyped-go/internal/debug"
	"github.com/satishbabariya/pgtyped-go/runtime"
)

// typesQuery selects the requested types and their array element types,
// one row per enum label.
const typesQuery = `
SELECT pt.oid::int8, pt.typname::text, pt.typtype::text, pe.enumlabel::text,
       pt.typelem::int8, pt.typcategory::text, pt.typrelid::int8
FROM pg_type pt
LEFT JOIN pg_enum pe ON pt.oid = pe.enumtypid
WHERE pt.oid::int8 = ANY($1::int8[])
   OR pt.oid IN (SELECT ptn.typelem FROM pg_type ptn WHERE ptn.oid::int8 = ANY($1::int8[]))
ORDER BY pt.oid, pe.enumsortorder`

// compositeAttributesQuery lists the live attributes of composite type relations.
const compositeAttributesQuery = `
SELECT pa.attrelid::int8, pa.attname::text, pa.atttypid::int8
FROM pg_attribute pa
WHERE pa.attrelid::int8 = ANY($1::int8[]) AND pa.attnum > 0 AND NOT pa.attisdropped
ORDER BY pa.attrelid, pa.attnum`

// maxCompositeDepth bounds recursion through nested composite types.
const maxCompositeDepth = 8

// TypeRow is one raw row of the type catalog query.
type TypeRow struct {
	OID        uint32
	Name       string
	Kind       Kind
	EnumLabel  sql.NullString
	ElementOID uint32
	Category   string
	RelationID uint32
}

// TypeResolver maps type OIDs to descriptors, querying the catalog only for
// OIDs it has not seen before.
type TypeResolver struct {
	q     Querier
	cache *TypeCache
	log   *slog.Logger
}

// NewTypeResolver creates a resolver backed by q and cache. A nil cache gets
// a private one.
func NewTypeResolver(q Querier, cache *TypeCache, logger *slog.Logger) *TypeResolver {
	if cache == nil {
		cache = NewTypeCache()
	}
	return &TypeResolver{q: q, cache: cache, log: debug.Component("type-resolver", logger)}
}

// Cache returns the resolver's type cache.
func (r *TypeResolver) Cache() *TypeCache {
	return r.cache
}

// Resolve returns a descriptor for every OID in oids. It issues at most one
// type catalog query (plus one attribute query per level of composite
// nesting) and fails with *runtime.TypeResolutionError when an OID has no
// catalog row.
func (r *TypeResolver) Resolve(ctx context.Context, oids []uint32) (map[uint32]*TypeDescriptor, error) {
	return r.resolve(ctx, oids, 0)
}

func (r *TypeResolver) resolve(ctx context.Context, oids []uint32, depth int) (map[uint32]*TypeDescriptor, error) {
	out := make(map[uint32]*TypeDescriptor, len(oids))
	if len(oids) == 0 {
		return out, nil
	}

	var missing []uint32
	for _, oid := range uniqueOIDs(oids) {
		if t, ok := r.cache.Get(oid); ok {
			out[oid] = t
			continue
		}
		missing = append(missing, oid)
	}
	if len(missing) == 0 {
		return out, nil
	}
	if depth > maxCompositeDepth {
		return nil, &runtime.TypeResolutionError{OIDs: missing, Reason: "composite types nested too deeply"}
	}

	r.log.Debug("querying type catalog", "requested", len(oids), "missing", len(missing), "depth", depth)

	rows, err := r.queryTypes(ctx, missing)
	if err != nil {
		return nil, err
	}

	built, order := reduceTypeRows(rows)
	if err := r.attachCompositeFields(ctx, built, depth); err != nil {
		return nil, err
	}

	published := r.publish(built, order)

	var unresolved []uint32
	for _, oid := range missing {
		if t, ok := published[oid]; ok {
			out[oid] = t
			continue
		}
		if t, ok := r.cache.Get(oid); ok {
			out[oid] = t
			continue
		}
		unresolved = append(unresolved, oid)
	}
	if len(unresolved) > 0 {
		return nil, &runtime.TypeResolutionError{OIDs: unresolved}
	}
	return out, nil
}

func (r *TypeResolver) queryTypes(ctx context.Context, oids []uint32) ([]TypeRow, error) {
	rows, err := r.q.QueryContext(ctx, typesQuery, pq.Array(toInt64s(oids)))
	if err != nil {
		return nil, runtime.Classify(runtime.StageCatalog, typesQuery, err)
	}
	defer rows.Close()

	var out []TypeRow
	for rows.Next() {
		var (
			row              TypeRow
			oid, elem, relid int64
			kind, category   string
		)
		if err := rows.Scan(&oid, &row.Name, &kind, &row.EnumLabel, &elem, &category, &relid); err != nil {
			return nil, runtime.Classify(runtime.StageCatalog, typesQuery, fmt.Errorf("failed to scan type row: %w", err))
		}
		row.OID = uint32(oid)
		row.Kind = Kind(kind)
		row.ElementOID = uint32(elem)
		row.Category = category
		row.RelationID = uint32(relid)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, runtime.Classify(runtime.StageCatalog, typesQuery, err)
	}
	return out, nil
}

// pendingType is a descriptor under construction. Array element links are
// resolved only after base types are published.
type pendingType struct {
	desc       *TypeDescriptor
	elementOID uint32
	relationID uint32
}

// reduceTypeRows groups raw catalog rows by OID. All rows for an OID are
// consumed before its descriptor is complete: an enum emits one row per
// label, and labels are kept in the order the rows arrive. The returned
// slice lists OIDs in first-seen order.
func reduceTypeRows(rows []TypeRow) (map[uint32]*pendingType, []uint32) {
	built := make(map[uint32]*pendingType, len(rows))
	var order []uint32

	for _, row := range rows {
		p, ok := built[row.OID]
		if !ok {
			p = &pendingType{
				desc: &TypeDescriptor{
					OID:      row.OID,
					Name:     row.Name,
					Kind:     row.Kind,
					Category: CategoryFromCode(row.Category),
				},
				elementOID: row.ElementOID,
				relationID: row.RelationID,
			}
			built[row.OID] = p
			order = append(order, row.OID)
		}
		if row.Kind == KindEnum {
			p.desc.Kind = KindEnum
			p.desc.Category = CategoryEnum
			if row.EnumLabel.Valid {
				p.desc.Labels = append(p.desc.Labels, row.EnumLabel.String)
			}
		}
	}
	return built, order
}

// attachCompositeFields resolves the attributes of composite types in built.
func (r *TypeResolver) attachCompositeFields(ctx context.Context, built map[uint32]*pendingType, depth int) error {
	relations := make(map[uint32]*pendingType)
	for _, p := range built {
		if p.desc.Kind == KindComposite && p.relationID != 0 {
			relations[p.relationID] = p
		}
	}
	if len(relations) == 0 {
		return nil
	}

	relids := make([]uint32, 0, len(relations))
	for id := range relations {
		relids = append(relids, id)
	}
	sort.Slice(relids, func(i, j int) bool { return relids[i] < relids[j] })

	rows, err := r.q.QueryContext(ctx, compositeAttributesQuery, pq.Array(toInt64s(relids)))
	if err != nil {
		return runtime.Classify(runtime.StageCatalog, compositeAttributesQuery, err)
	}
	type attr struct {
		relid   uint32
		name    string
		typeOID uint32
	}
	var attrs []attr
	for rows.Next() {
		var relid, typ int64
		var name string
		if err := rows.Scan(&relid, &name, &typ); err != nil {
			rows.Close()
			return runtime.Classify(runtime.StageCatalog, compositeAttributesQuery, fmt.Errorf("failed to scan attribute row: %w", err))
		}
		attrs = append(attrs, attr{relid: uint32(relid), name: name, typeOID: uint32(typ)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return runtime.Classify(runtime.StageCatalog, compositeAttributesQuery, err)
	}
	rows.Close()

	attrOIDs := make([]uint32, 0, len(attrs))
	for _, a := range attrs {
		attrOIDs = append(attrOIDs, a.typeOID)
	}
	types, err := r.resolve(ctx, attrOIDs, depth+1)
	if err != nil {
		return err
	}

	for _, a := range attrs {
		p := relations[a.relid]
		p.desc.Fields = append(p.desc.Fields, CompositeField{Name: a.name, Type: types[a.typeOID]})
	}
	return nil
}

// publish stores base types first, then arrays linked to the canonical
// element descriptors, and returns the canonical descriptor per OID.
func (r *TypeResolver) publish(built map[uint32]*pendingType, order []uint32) map[uint32]*TypeDescriptor {
	base := make(map[uint32]*TypeDescriptor, len(built))
	var arrays []*pendingType
	for _, oid := range order {
		p := built[oid]
		if p.desc.Category == CategoryArray && p.elementOID != 0 {
			arrays = append(arrays, p)
			continue
		}
		base[oid] = p.desc
	}
	published := r.cache.Publish(base)

	if len(arrays) == 0 {
		return published
	}
	linked := make(map[uint32]*TypeDescriptor, len(arrays))
	for _, p := range arrays {
		elem, ok := published[p.elementOID]
		if !ok {
			elem, _ = r.cache.Get(p.elementOID)
		}
		d := *p.desc
		d.Element = elem
		linked[d.OID] = &d
	}
	for oid, t := range r.cache.Publish(linked) {
		published[oid] = t
	}
	return published
}

func uniqueOIDs(oids []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(oids))
	out := make([]uint32, 0, len(oids))
	for _, oid := range oids {
		if _, ok := seen[oid]; ok {
			continue
		}
		seen[oid] = struct{}{}
		out = append(out, oid)
	}
	return out
}

func toInt64s(oids []uint32) []int64 {
	out := make([]int64, len(oids))
	for i, oid := range oids {
		out[i] = int64(oid)
	}
	return out
}
