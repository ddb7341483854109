package record

import (
	"bytes"
	"encoding/json"
)

// Row is a generic materialized row. Keys are column display names in the
// order the database described them.
type Row struct {
	Keys   []string
	Values []any
}

// Get returns the value of the first column named key.
func (r Row) Get(key string) (any, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Len returns the number of columns.
func (r Row) Len() int {
	return len(r.Keys)
}

// Map returns the row as a map. Later duplicate keys are dropped.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.Keys))
	for i, k := range r.Keys {
		if _, dup := m[k]; dup {
			continue
		}
		m[k] = r.Values[i]
	}
	return m
}

// MarshalJSON encodes the row as an object with keys in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
