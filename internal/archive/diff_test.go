package archive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/archive"
	"github.com/msghub/msghub/internal/msgcodec"
)

func TestDiff_Identical(t *testing.T) {
	a := map[string]any{"x": 1, "y": []any{"a", "b"}}
	added, removed, err := archive.Diff(a, a)
	require.NoError(t, err)
	assert.Nil(t, added)
	assert.Nil(t, removed)
}

func TestDiff_ObjectFields(t *testing.T) {
	old := map[string]any{"title": "a", "level": 20, "gone": true}
	new := map[string]any{"title": "b", "level": 20, "fresh": "x"}

	added, removed, err := archive.Diff(old, new)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "b", "fresh": "x"}, added)
	assert.Equal(t, map[string]any{"title": "a", "gone": true}, removed)
}

func TestDiff_IDArray_ReorderOnlyIsNoDiff(t *testing.T) {
	old := []any{
		map[string]any{"id": "a", "name": "milk"},
		map[string]any{"id": "b", "name": "bread"},
	}
	new := []any{
		map[string]any{"id": "b", "name": "bread"},
		map[string]any{"id": "a", "name": "milk"},
	}
	added, removed, err := archive.Diff(old, new)
	require.NoError(t, err)
	assert.Nil(t, added)
	assert.Nil(t, removed)
}

func TestDiff_IDArray_ChangedItemInBothBranches(t *testing.T) {
	old := []any{
		map[string]any{"id": "a", "checked": false},
		map[string]any{"id": "b", "checked": false},
	}
	new := []any{
		map[string]any{"id": "a", "checked": true},
	}
	added, removed, err := archive.Diff(old, new)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "a", "checked": true}}, added)
	assert.Equal(t, []any{
		map[string]any{"id": "a", "checked": false},
		map[string]any{"id": "b", "checked": false},
	}, removed)
}

func TestDiff_PrimitiveSet(t *testing.T) {
	old := []any{"a", "b", "c"}
	new := []any{"c", "b", "d"}

	added, removed, err := archive.Diff(old, new)
	require.NoError(t, err)
	assert.Equal(t, []any{"d"}, added)
	assert.Equal(t, []any{"a"}, removed)

	// Pure reorder is no diff.
	added, removed, err = archive.Diff([]any{"a", "b"}, []any{"b", "a"})
	require.NoError(t, err)
	assert.Nil(t, added)
	assert.Nil(t, removed)
}

func TestDiff_MixedArrayReplacesWholesale(t *testing.T) {
	old := []any{"a", "a"} // duplicate: not a set
	new := []any{"a"}

	added, removed, err := archive.Diff(old, new)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, added)
	assert.Equal(t, []any{"a", "a"}, removed)
}

func TestDiff_MapPerKey(t *testing.T) {
	old := msgcodec.NewMap()
	old.Set("temp", map[string]any{"val": 20.0})
	old.Set("hum", map[string]any{"val": 55.0})

	new := msgcodec.NewMap()
	new.Set("temp", map[string]any{"val": 21.0})
	new.Set("co2", map[string]any{"val": 400.0})

	added, removed, err := archive.Diff(old, new)
	require.NoError(t, err)

	addedM := added.(*msgcodec.Map)
	require.Equal(t, 2, addedM.Len())
	tempNew, _ := addedM.Get("temp")
	assert.Equal(t, 21.0, tempNew.(map[string]any)["val"])
	_, hasCO2 := addedM.Get("co2")
	assert.True(t, hasCO2)

	removedM := removed.(*msgcodec.Map)
	require.Equal(t, 2, removedM.Len())
	_, hasHum := removedM.Get("hum")
	assert.True(t, hasHum)
}

func TestDiff_PrimitiveWholesale(t *testing.T) {
	added, removed, err := archive.Diff("old", "new")
	require.NoError(t, err)
	assert.Equal(t, "new", added)
	assert.Equal(t, "old", removed)
}

func TestDiff_NilSides(t *testing.T) {
	added, removed, err := archive.Diff(nil, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", added)
	assert.Nil(t, removed)

	added, removed, err = archive.Diff("x", nil)
	require.NoError(t, err)
	assert.Nil(t, added)
	assert.Equal(t, "x", removed)
}
