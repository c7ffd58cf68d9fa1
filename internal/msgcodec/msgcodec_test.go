package msgcodec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := NewMap()
	m.Set("temp", map[string]any{"val": 21.7, "unit": "C", "ts": float64(1700000)})
	m.Set("hum", map[string]any{"val": 40.0, "unit": "%", "ts": float64(1700001)})

	doc := map[string]any{
		"ref":     "a1",
		"title":   "hello",
		"level":   20,
		"metrics": m,
		"tags":    []any{"garden", "pump"},
	}

	data, err := Default.Encode(doc)
	require.NoError(t, err)

	decoded, err := Default.Decode(data)
	require.NoError(t, err)

	assert.True(t, Equal(doc, decoded))

	// The Map really comes back as a Map, in insertion order.
	obj, ok := decoded.(map[string]any)
	require.True(t, ok)
	back, ok := obj["metrics"].(*Map)
	require.True(t, ok)
	assert.Equal(t, []string{"temp", "hum"}, back.Keys())
}

func TestEncodeEmitsMarker(t *testing.T) {
	m := NewMap()
	m.Set("k", "v")

	data, err := Default.Encode(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Map", raw[DefaultMarker])
	assert.Len(t, raw["entries"], 1)
}

func TestCustomMarker(t *testing.T) {
	c := New("__otherType")
	m := NewMap()
	m.Set("a", 1)

	data, err := c.Encode(map[string]any{"metrics": m})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"__otherType":"Map"`)

	decoded, err := c.Decode(data)
	require.NoError(t, err)
	obj := decoded.(map[string]any)
	_, isMap := obj["metrics"].(*Map)
	assert.True(t, isMap)

	// The default codec must not claim the foreign marker.
	plain, err := Default.Decode(data)
	require.NoError(t, err)
	_, isMap = plain.(map[string]any)["metrics"].(*Map)
	assert.False(t, isMap)
}

func TestDecodeNestedMaps(t *testing.T) {
	inner := NewMap()
	inner.Set("x", 1)
	outer := NewMap()
	outer.Set("inner", inner)

	data, err := Default.Encode([]any{outer})
	require.NoError(t, err)

	decoded, err := Default.Decode(data)
	require.NoError(t, err)

	list := decoded.([]any)
	require.Len(t, list, 1)
	m := list[0].(*Map)
	v, ok := m.Get("inner")
	require.True(t, ok)
	_, isMap := v.(*Map)
	assert.True(t, isMap)
}

func TestTypedStructWithMapField(t *testing.T) {
	type payload struct {
		Ref     string `json:"ref"`
		Metrics *Map   `json:"metrics"`
	}
	m := NewMap()
	m.Set("temp", map[string]any{"val": 1.5})

	data, err := Default.Encode(payload{Ref: "r1", Metrics: m})
	require.NoError(t, err)

	decoded, err := Default.Decode(data)
	require.NoError(t, err)
	obj := decoded.(map[string]any)
	_, isMap := obj["metrics"].(*Map)
	assert.True(t, isMap)
}

func TestMapSetGetDeleteOrder(t *testing.T) {
	m := NewMap()
	m.Set("b", 2)
	m.Set("a", 1)
	m.Set("b", 3) // overwrite keeps position

	assert.Equal(t, []string{"b", "a"}, m.Keys())
	v, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	assert.True(t, m.Delete("b"))
	assert.False(t, m.Delete("b"))
	assert.Equal(t, []string{"a"}, m.Keys())
}

func TestMapJSONRoundTrip(t *testing.T) {
	m := NewMap()
	m.Set("k1", "v1")
	m.Set("k2", float64(2))

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Map
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"k1", "k2"}, back.Keys())
	assert.True(t, Equal(m, &back))
}

func TestEqual(t *testing.T) {
	mkMap := func(pairs ...[2]any) *Map {
		m := NewMap()
		for _, p := range pairs {
			m.Set(p[0].(string), p[1])
		}
		return m
	}

	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nils", nil, nil, true},
		{"nil vs value", nil, 1, false},
		{"ints and floats", 20, 20.0, true},
		{"strings", "a", "a", true},
		{"slices ordered", []any{1, 2}, []any{2, 1}, false},
		{"objects", map[string]any{"a": 1}, map[string]any{"a": 1.0}, true},
		{"object key missing", map[string]any{"a": 1}, map[string]any{"b": 1}, false},
		{"maps ignore insertion order",
			mkMap([2]any{"a", 1}, [2]any{"b", 2}),
			mkMap([2]any{"b", 2}, [2]any{"a", 1}),
			true},
		{"map vs object", mkMap([2]any{"a", 1}), map[string]any{"a": 1}, false},
		{"map value differs",
			mkMap([2]any{"a", 1}),
			mkMap([2]any{"a", 2}),
			false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}
