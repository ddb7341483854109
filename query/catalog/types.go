// Package catalog resolves PostgreSQL type and column metadata from the
// system catalogs (pg_type, pg_enum, pg_attribute, pg_description).
package catalog

import (
	"fmt"
	"sync"
)

// Category is the pg_type.typcategory classification of a type.
type Category string

const (
	CategoryArray          Category = "array"
	CategoryBoolean        Category = "boolean"
	CategoryComposite      Category = "composite"
	CategoryDateTime       Category = "date-time"
	CategoryEnum           Category = "enum"
	CategoryGeometric      Category = "geometric"
	CategoryNetworkAddress Category = "network-address"
	CategoryNumeric        Category = "numeric"
	CategoryPseudo         Category = "pseudo"
	CategoryString         Category = "string"
	CategoryTimespan       Category = "timespan"
	CategoryUserDefined    Category = "user-defined"
	CategoryBitString      Category = "bit-string"
	CategoryUnknown        Category = "unknown"
)

// categoryCodes maps typcategory characters to categories.
var categoryCodes = map[string]Category{
	"A": CategoryArray,
	"B": CategoryBoolean,
	"C": CategoryComposite,
	"D": CategoryDateTime,
	"E": CategoryEnum,
	"G": CategoryGeometric,
	"I": CategoryNetworkAddress,
	"N": CategoryNumeric,
	"P": CategoryPseudo,
	"S": CategoryString,
	"T": CategoryTimespan,
	"U": CategoryUserDefined,
	"V": CategoryBitString,
	"X": CategoryUnknown,
}

// CategoryFromCode converts a typcategory character. Unrecognized codes,
// including the internal-use 'Z', map to CategoryUnknown.
func CategoryFromCode(code string) Category {
	if c, ok := categoryCodes[code]; ok {
		return c
	}
	return CategoryUnknown
}

// Kind is the pg_type.typtype of a type.
type Kind string

const (
	KindBase       Kind = "b"
	KindComposite  Kind = "c"
	KindDomain     Kind = "d"
	KindEnum       Kind = "e"
	KindPseudo     Kind = "p"
	KindRange      Kind = "r"
	KindMultirange Kind = "m"
)

// TypeDescriptor describes one database type. Descriptors are immutable once
// published and are shared by pointer across columns and prepared queries.
type TypeDescriptor struct {
	OID      uint32
	Name     string
	Kind     Kind
	Category Category
	// Labels holds enum labels in catalog sort order when Category is enum.
	Labels []string
	// Element is the resolved element type when Category is array.
	Element *TypeDescriptor
	// Fields holds the attributes of a composite type in attribute order.
	Fields []CompositeField
}

// CompositeField is one attribute of a composite type.
type CompositeField struct {
	Name string
	Type *TypeDescriptor
}

// IsEnum reports whether t is an enum type.
func (t *TypeDescriptor) IsEnum() bool {
	return t != nil && t.Category == CategoryEnum
}

// IsArray reports whether t is an array type.
func (t *TypeDescriptor) IsArray() bool {
	return t != nil && t.Category == CategoryArray
}

// HasLabel reports whether label is one of the enum's labels.
func (t *TypeDescriptor) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// String renders the type name, with the element for arrays.
func (t *TypeDescriptor) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.Element != nil {
		return fmt.Sprintf("%s[]", t.Element.String())
	}
	return t.Name
}

// TypeCache is the append-only, process-wide store of resolved descriptors.
// Its lifetime is tied to the client that created it.
type TypeCache struct {
	mu    sync.RWMutex
	types map[uint32]*TypeDescriptor
}

// NewTypeCache creates an empty cache.
func NewTypeCache() *TypeCache {
	return &TypeCache{types: make(map[uint32]*TypeDescriptor)}
}

// Get returns the cached descriptor for oid.
func (c *TypeCache) Get(oid uint32) (*TypeDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[oid]
	return t, ok
}

// Publish stores descriptors that are not yet cached and returns the
// canonical descriptor for each OID. When two resolutions race, the first
// published descriptor wins so object identity stays stable.
func (c *TypeCache) Publish(types map[uint32]*TypeDescriptor) map[uint32]*TypeDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint32]*TypeDescriptor, len(types))
	for oid, t := range types {
		if existing, ok := c.types[oid]; ok {
			out[oid] = existing
			continue
		}
		c.types[oid] = t
		out[oid] = t
	}
	return out
}

// Len returns the number of cached descriptors.
func (c *TypeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}
