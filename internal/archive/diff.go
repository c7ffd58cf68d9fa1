package archive

import (
	"github.com/msghub/msghub/internal/msgcodec"
)

// Diff computes the structural difference between existing and
// updated. Added holds the branches that are new or changed (with
// their new values), Removed the branches that are gone or changed
// (with their old values). Both are nil when nothing differs.
//
// Arrays of objects with unique string ids diff by id, so a pure
// reorder is no diff; arrays of unique primitives diff as sets; other
// arrays replace wholesale. Maps diff per key, objects per field.
func Diff(existing, updated any) (added, removed any, err error) {
	ge, err := msgcodec.Default.Generalize(existing)
	if err != nil {
		return nil, nil, err
	}
	gu, err := msgcodec.Default.Generalize(updated)
	if err != nil {
		return nil, nil, err
	}
	a, r := diffValue(ge, gu)
	return a, r, nil
}

// diffValue dispatches on the generalized value shapes.
func diffValue(oldV, newV any) (added, removed any) {
	if msgcodec.Equal(oldV, newV) {
		return nil, nil
	}
	if oldV == nil {
		return newV, nil
	}
	if newV == nil {
		return nil, oldV
	}

	switch o := oldV.(type) {
	case *msgcodec.Map:
		if n, ok := newV.(*msgcodec.Map); ok {
			return diffMap(o, n)
		}
	case map[string]any:
		if n, ok := newV.(map[string]any); ok {
			return diffObject(o, n)
		}
	case []any:
		if n, ok := newV.([]any); ok {
			return diffArray(o, n)
		}
	}
	// Primitives and type changes replace wholesale.
	return newV, oldV
}

// diffObject recurses per key; only differing keys appear in the
// output branches.
func diffObject(oldO, newO map[string]any) (added, removed any) {
	addedM := map[string]any{}
	removedM := map[string]any{}
	for k, ov := range oldO {
		nv, exists := newO[k]
		if !exists {
			removedM[k] = ov
			continue
		}
		a, r := diffValue(ov, nv)
		if a != nil {
			addedM[k] = a
		}
		if r != nil {
			removedM[k] = r
		}
	}
	for k, nv := range newO {
		if _, exists := oldO[k]; !exists {
			addedM[k] = nv
		}
	}
	return nonEmptyMap(addedM), nonEmptyMap(removedM)
}

// diffMap diffs per key: changed keys appear in both branches with
// their new and old entries.
func diffMap(oldM, newM *msgcodec.Map) (added, removed any) {
	addedOut := msgcodec.NewMap()
	removedOut := msgcodec.NewMap()
	oldM.Range(func(k string, ov any) bool {
		nv, exists := newM.Get(k)
		if !exists {
			removedOut.Set(k, ov)
			return true
		}
		if !msgcodec.Equal(ov, nv) {
			addedOut.Set(k, nv)
			removedOut.Set(k, ov)
		}
		return true
	})
	newM.Range(func(k string, nv any) bool {
		if _, exists := oldM.Get(k); !exists {
			addedOut.Set(k, nv)
		}
		return true
	})
	var a, r any
	if addedOut.Len() > 0 {
		a = addedOut
	}
	if removedOut.Len() > 0 {
		r = removedOut
	}
	return a, r
}

// diffArray picks the diff strategy: id-keyed objects, primitive set,
// or wholesale replacement.
func diffArray(oldA, newA []any) (added, removed any) {
	if oldIDs, ok := idIndex(oldA); ok {
		if newIDs, ok := idIndex(newA); ok {
			return diffByID(oldA, newA, oldIDs, newIDs)
		}
	}
	if isPrimitiveSet(oldA) && isPrimitiveSet(newA) {
		return diffSet(oldA, newA)
	}
	return newA, oldA
}

// idIndex maps element ids to indices when every element is a plain
// object with a unique string "id".
func idIndex(arr []any) (map[string]int, bool) {
	idx := make(map[string]int, len(arr))
	for i, v := range arr {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		id, ok := obj["id"].(string)
		if !ok || id == "" {
			return nil, false
		}
		if _, dup := idx[id]; dup {
			return nil, false
		}
		idx[id] = i
	}
	return idx, true
}

// diffByID: changed items appear in both branches; order-only changes
// produce no diff.
func diffByID(oldA, newA []any, oldIDs, newIDs map[string]int) (added, removed any) {
	var addedL, removedL []any
	for _, v := range newA {
		id := v.(map[string]any)["id"].(string)
		oi, existed := oldIDs[id]
		if !existed {
			addedL = append(addedL, v)
			continue
		}
		if !msgcodec.Equal(oldA[oi], v) {
			addedL = append(addedL, v)
			removedL = append(removedL, oldA[oi])
		}
	}
	for _, v := range oldA {
		id := v.(map[string]any)["id"].(string)
		if _, exists := newIDs[id]; !exists {
			removedL = append(removedL, v)
		}
	}
	return nonEmptyList(addedL), nonEmptyList(removedL)
}

// isPrimitiveSet reports whether every element is a unique primitive.
func isPrimitiveSet(arr []any) bool {
	seen := make(map[any]bool, len(arr))
	for _, v := range arr {
		switch v.(type) {
		case map[string]any, []any, *msgcodec.Map, nil:
			return false
		}
		key := primitiveKey(v)
		if seen[key] {
			return false
		}
		seen[key] = true
	}
	return true
}

// diffSet: only real adds and removes; reordering is no diff.
func diffSet(oldA, newA []any) (added, removed any) {
	oldSet := make(map[any]bool, len(oldA))
	for _, v := range oldA {
		oldSet[primitiveKey(v)] = true
	}
	newSet := make(map[any]bool, len(newA))
	for _, v := range newA {
		newSet[primitiveKey(v)] = true
	}
	var addedL, removedL []any
	for _, v := range newA {
		if !oldSet[primitiveKey(v)] {
			addedL = append(addedL, v)
		}
	}
	for _, v := range oldA {
		if !newSet[primitiveKey(v)] {
			removedL = append(removedL, v)
		}
	}
	return nonEmptyList(addedL), nonEmptyList(removedL)
}

// primitiveKey folds numeric types so 2 and 2.0 compare equal as set
// members.
func primitiveKey(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case interface{ Float64() (float64, error) }:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return v
}

func nonEmptyMap(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func nonEmptyList(l []any) any {
	if len(l) == 0 {
		return nil
	}
	return l
}
