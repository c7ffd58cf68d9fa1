package message

import (
	"encoding/json"
	"reflect"
	"strings"
)

// patchField is implemented by Field[T]; the reflective marshaler uses
// it to tell absent fields (skipped) from removals (null) from values.
type patchField interface {
	Present() bool
	Removed() bool
	valueAny() any
}

func (f Field[T]) valueAny() any { return f.value }

// marshalPatchStruct serializes a patch struct to JSON with absent
// fields omitted entirely, so an archived patch reads back with the
// same keep/remove/set semantics it was applied with.
func marshalPatchStruct(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		tag := strings.Split(rt.Field(i).Tag.Get("json"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		f, ok := rv.Field(i).Interface().(patchField)
		if !ok {
			continue
		}
		if !f.Present() {
			continue
		}
		if f.Removed() {
			out[tag] = nil
			continue
		}
		out[tag] = f.valueAny()
	}
	return json.Marshal(out)
}

func (p Patch) MarshalJSON() ([]byte, error)          { return marshalPatchStruct(p) }
func (p OriginPatch) MarshalJSON() ([]byte, error)    { return marshalPatchStruct(p) }
func (p LifecyclePatch) MarshalJSON() ([]byte, error) { return marshalPatchStruct(p) }
func (p TimingPatch) MarshalJSON() ([]byte, error)    { return marshalPatchStruct(p) }
func (p DetailsPatch) MarshalJSON() ([]byte, error)   { return marshalPatchStruct(p) }
func (p ChannelsPatch) MarshalJSON() ([]byte, error)  { return marshalPatchStruct(p) }
func (p AudiencePatch) MarshalJSON() ([]byte, error)  { return marshalPatchStruct(p) }
func (p ProgressPatch) MarshalJSON() ([]byte, error)  { return marshalPatchStruct(p) }

// MarshalJSON emits the wholesale array form or the {set, delete}
// object form, matching what UnmarshalJSON accepts.
func (p StringsPatch) MarshalJSON() ([]byte, error) {
	if p.WholeSet {
		return json.Marshal(p.Replace)
	}
	return json.Marshal(map[string]any{"set": p.Set, "delete": p.Delete})
}

// MarshalJSON emits the wholesale array form or the {set, delete}
// object form.
func (p ItemsPatch[T]) MarshalJSON() ([]byte, error) {
	if p.WholeSet {
		return json.Marshal(p.Replace)
	}
	return json.Marshal(map[string]any{"set": p.Set, "delete": p.Delete})
}
