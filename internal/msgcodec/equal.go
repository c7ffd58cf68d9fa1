package msgcodec

import "encoding/json"

// Equal reports deep structural equality of two values under the codec's
// data model: Maps compare by entry set, slices by element order, objects
// by key set, and numbers by numeric value regardless of Go type. Typed
// values are compared through their generalized form.
func Equal(a, b any) bool {
	ga, err := Default.generalize(a)
	if err != nil {
		return false
	}
	gb, err := Default.generalize(b)
	if err != nil {
		return false
	}
	return genericEqual(ga, gb)
}

func genericEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, aNum := toFloat(a); aNum {
		nb, bNum := toFloat(b)
		return bNum && na == nb
	}
	switch ta := a.(type) {
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case map[string]any:
		tb, ok := b.(map[string]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		// Map nodes compare by entry set, not insertion order.
		if isMarkerObject(DefaultMarker, ta) && isMarkerObject(DefaultMarker, tb) {
			return genericEqual(entryMap(ta), entryMap(tb))
		}
		for k, va := range ta {
			vb, exists := tb[k]
			if !exists || !genericEqual(va, vb) {
				return false
			}
		}
		return true
	case []any:
		tb, ok := b.([]any)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !genericEqual(ta[i], tb[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// entryMap flattens a marker object's entries into a plain key→value map.
func entryMap(obj map[string]any) map[string]any {
	out := make(map[string]any)
	entries, _ := obj["entries"].([]any)
	for _, e := range entries {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		if k, ok := pair[0].(string); ok {
			out[k] = pair[1]
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
