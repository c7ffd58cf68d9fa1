package msgcodec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Map is an insertion-ordered string-keyed map. It exists because plain
// JSON objects cannot round-trip the distinction between "object" and
// "map" data: a Map marshals as a tagged record and is rebuilt as a Map
// on decode, no matter how deeply it is nested.
type Map struct {
	keys []string
	vals map[string]any
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{vals: make(map[string]any)}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.vals[key]
	return v, ok
}

// Set stores value under key, preserving first-insertion order.
func (m *Map) Set(key string, value any) {
	if _, exists := m.vals[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = value
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key string) bool {
	if m == nil {
		return false
	}
	if _, exists := m.vals[key]; !exists {
		return false
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

// Clone returns a shallow copy.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := NewMap()
	for _, k := range m.keys {
		out.Set(k, m.vals[k])
	}
	return out
}

// MarshalJSON emits the tagged record form using DefaultMarker.
func (m *Map) MarshalJSON() ([]byte, error) {
	g, err := Default.generalizeMap(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(g)
}

// UnmarshalJSON accepts the tagged record form (DefaultMarker). A plain
// JSON object is also accepted and treated as unordered entries, which
// keeps older hand-written documents loadable.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("msgcodec: map: %w", err)
	}
	var built *Map
	if isMarkerObject(DefaultMarker, raw) {
		built = mapFromEntries(DefaultMarker, raw["entries"])
	} else {
		built = NewMap()
		for k, v := range raw {
			built.Set(k, rematerialize(DefaultMarker, v))
		}
	}
	*m = *built
	return nil
}
