// Package msgcodec serializes message data to JSON while preserving
// structural Map values across round-trips via a reserved type marker.
package msgcodec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultMarker is the reserved field name that tags an encoded Map.
// It must stay stable across restarts: persisted documents and archive
// segments written with one marker are unreadable with another.
const DefaultMarker = "__msghubType"

// markerValue is the marker field's value for Map nodes.
const markerValue = "Map"

// Codec encodes and decodes JSON with Map preservation. The zero value
// is not usable; use Default or New.
type Codec struct {
	Marker string
}

// Default is the codec used by the persistence layer.
var Default = Codec{Marker: DefaultMarker}

// New returns a Codec with a custom marker. Empty falls back to DefaultMarker.
func New(marker string) Codec {
	if marker == "" {
		marker = DefaultMarker
	}
	return Codec{Marker: marker}
}

// Encode marshals v to JSON. Map values (at any depth) are written as
// {"<marker>":"Map","entries":[[k,v],…]} so Decode can rebuild them.
func (c Codec) Encode(v any) ([]byte, error) {
	g, err := c.generalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(g)
}

// EncodeIndent is Encode with two-space indentation, for the main document.
func (c Codec) EncodeIndent(v any) ([]byte, error) {
	g, err := c.generalize(v)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(g, "", "  ")
}

// Decode unmarshals data and rematerializes marker objects into *Map,
// recursively. All other JSON types pass through unchanged.
func (c Codec) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("msgcodec: decode: %w", err)
	}
	return rematerialize(c.Marker, v), nil
}

// Generalize converts v into the codec's plain data model: nested
// map[string]any, []any, *Map, numbers, strings, bools and nil. Typed
// values (structs, typed slices) are flattened; Map nodes survive as
// *Map. The diff engine operates on this form.
func (c Codec) Generalize(v any) (any, error) {
	g, err := c.generalize(v)
	if err != nil {
		return nil, err
	}
	return rematerialize(c.Marker, g), nil
}

// generalize converts v into plain JSON-marshalable values with Map nodes
// replaced by marker objects carrying this codec's marker.
func (c Codec) generalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return t, nil
	case *Map:
		if t == nil {
			return nil, nil
		}
		return c.generalizeMap(t)
	case Map:
		return c.generalizeMap(&t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			g, err := c.generalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = g
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			g, err := c.generalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = g
		}
		return out, nil
	default:
		// Typed values (structs, typed slices) take a round-trip through
		// encoding/json. Map fields marshal themselves with DefaultMarker,
		// so rebuild them and re-generalize under this codec's marker.
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("msgcodec: encode %T: %w", v, err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var g any
		if err := dec.Decode(&g); err != nil {
			return nil, fmt.Errorf("msgcodec: reparse %T: %w", v, err)
		}
		return c.generalize(rematerialize(DefaultMarker, g))
	}
}

func (c Codec) generalizeMap(m *Map) (any, error) {
	entries := make([]any, 0, m.Len())
	for _, k := range m.keys {
		g, err := c.generalize(m.vals[k])
		if err != nil {
			return nil, err
		}
		entries = append(entries, []any{k, g})
	}
	return map[string]any{
		c.Marker:  markerValue,
		"entries": entries,
	}, nil
}

// rematerialize walks a decoded JSON value and rebuilds *Map nodes from
// marker objects.
func rematerialize(marker string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		if isMarkerObject(marker, t) {
			return mapFromEntries(marker, t["entries"])
		}
		for k, val := range t {
			t[k] = rematerialize(marker, val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = rematerialize(marker, val)
		}
		return t
	default:
		return v
	}
}

func isMarkerObject(marker string, obj map[string]any) bool {
	tag, ok := obj[marker].(string)
	if !ok || tag != markerValue {
		return false
	}
	_, hasEntries := obj["entries"]
	return hasEntries && len(obj) == 2
}

func mapFromEntries(marker string, entries any) *Map {
	m := NewMap()
	list, ok := entries.([]any)
	if !ok {
		return m
	}
	for _, e := range list {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		key, ok := pair[0].(string)
		if !ok {
			continue
		}
		m.Set(key, rematerialize(marker, pair[1]))
	}
	return m
}
