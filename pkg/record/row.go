// Package record defines the canonical row that flows from extractors through
// schema validation into loaders.
package record

import (
	"bytes"

	gojson "github.com/goccy/go-json"
)

// Null is the explicit absent-value marker. Empty source values are
// normalized to Null before validation and encode as JSON null.
var Null any = nil

// Row is an ordered mapping from field name to value. Keys keep the order in
// which they were first set.
type Row struct {
	keys   []string
	values map[string]any
}

// New returns an empty row with room for n fields.
func New(n int) Row {
	return Row{
		keys:   make([]string, 0, n),
		values: make(map[string]any, n),
	}
}

// FromPairs builds a row from parallel key and value slices.
func FromPairs(keys []string, values []any) Row {
	r := New(len(keys))
	for i, k := range keys {
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.Set(k, v)
	}
	return r
}

// Set stores v under key, appending the key if it is new.
func (r *Row) Set(key string, v any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get returns the value for key and whether the key is present.
func (r Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// IsNull reports whether key is absent or holds the Null marker.
func (r Row) IsNull(key string) bool {
	v, ok := r.values[key]
	return !ok || v == nil
}

// Keys returns the field names in insertion order.
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r Row) Len() int { return len(r.keys) }

// Map returns an unordered copy of the row.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Values returns the values in key order.
func (r Row) Values() []any {
	out := make([]any, len(r.keys))
	for i, k := range r.keys {
		out[i] = r.values[k]
	}
	return out
}

// MarshalJSON encodes the row as a JSON object preserving key order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := gojson.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := gojson.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
