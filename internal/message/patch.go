package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is a tri-state patch value: absent (keep the existing value),
// remove (JSON null), or set to a new value. Absent and null are
// deliberately distinct; encoding/json leaves absent keys untouched,
// so the zero Field means "keep".
type Field[T any] struct {
	present bool
	remove  bool
	value   T
}

// Set returns a Field carrying v.
func Set[T any](v T) Field[T] {
	return Field[T]{present: true, value: v}
}

// Remove returns a Field that removes the target.
func Remove[T any]() Field[T] {
	return Field[T]{present: true, remove: true}
}

// Present reports whether the field appears in the patch at all.
func (f Field[T]) Present() bool { return f.present }

// Removed reports whether the field removes the target.
func (f Field[T]) Removed() bool { return f.present && f.remove }

// Value returns the carried value; only meaningful when Present and
// not Removed.
func (f Field[T]) Value() T { return f.value }

// UnmarshalJSON maps JSON null to remove and any value to set.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Remove[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Set(v)
	return nil
}

// MarshalJSON emits null for remove and the value otherwise. Absent
// fields must be skipped by the caller; Field cannot express absence
// in its own output.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.remove || !f.present {
		return []byte("null"), nil
	}
	return json.Marshal(f.value)
}

// StringsPatch patches a list of strings: either a wholesale
// replacement, or incremental {set, delete}. The JSON forms are a
// plain array (or CSV string) for replacement and an object with
// "set"/"delete" keys for incremental edits.
type StringsPatch struct {
	Replace  StringList
	WholeSet bool
	Set      StringList
	Delete   StringList
}

// UnmarshalJSON accepts ["a","b"], "a, b" or {"set":[…],"delete":[…]}.
func (p *StringsPatch) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var inc struct {
			Set    StringList `json:"set"`
			Delete StringList `json:"delete"`
		}
		if err := json.Unmarshal(data, &inc); err != nil {
			return err
		}
		*p = StringsPatch{Set: inc.Set, Delete: inc.Delete}
		return nil
	}
	var list StringList
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = StringsPatch{Replace: list, WholeSet: true}
	return nil
}

// ReplaceWith returns a wholesale-replacement StringsPatch.
func ReplaceWith(values ...string) StringsPatch {
	return StringsPatch{Replace: StringList(values), WholeSet: true}
}

// apply merges the patch into existing and returns the result.
func (p StringsPatch) apply(existing StringList) StringList {
	if p.WholeSet {
		return normalizeList(p.Replace)
	}
	out := append(StringList(nil), existing...)
	for _, v := range p.Set {
		out = append(out, v)
	}
	if len(p.Delete) > 0 {
		del := make(map[string]bool, len(p.Delete))
		for _, v := range p.Delete {
			del[v] = true
		}
		kept := out[:0]
		for _, v := range out {
			if !del[v] {
				kept = append(kept, v)
			}
		}
		out = kept
	}
	return normalizeList(out)
}

// ItemsPatch patches an id-keyed array: wholesale replacement, or
// {set: {id: item}, delete: [id]}.
type ItemsPatch[T any] struct {
	Replace  []T
	WholeSet bool
	Set      map[string]T
	Delete   []string
}

// UnmarshalJSON accepts a JSON array for replacement or an object with
// "set"/"delete" keys for incremental edits.
func (p *ItemsPatch[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*p = ItemsPatch[T]{Replace: list, WholeSet: true}
		return nil
	}
	var inc struct {
		Set    map[string]T `json:"set"`
		Delete []string     `json:"delete"`
	}
	if err := json.Unmarshal(data, &inc); err != nil {
		return err
	}
	*p = ItemsPatch[T]{Set: inc.Set, Delete: inc.Delete}
	return nil
}

// ReplaceItems returns a wholesale-replacement ItemsPatch.
func ReplaceItems[T any](items []T) ItemsPatch[T] {
	return ItemsPatch[T]{Replace: items, WholeSet: true}
}

// applyItems merges an id-keyed patch into existing. itemID extracts
// the id, withID stamps an id onto a patched-in item.
func applyItems[T any](existing []T, p ItemsPatch[T], itemID func(T) string, withID func(T, string) T) []T {
	if p.WholeSet {
		return p.Replace
	}
	out := append([]T(nil), existing...)
	for id, item := range p.Set {
		item = withID(item, id)
		replaced := false
		for i := range out {
			if itemID(out[i]) == id {
				out[i] = item
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, item)
		}
	}
	if len(p.Delete) > 0 {
		del := make(map[string]bool, len(p.Delete))
		for _, id := range p.Delete {
			del[id] = true
		}
		kept := out[:0]
		for _, item := range out {
			if !del[itemID(item)] {
				kept = append(kept, item)
			}
		}
		out = kept
	}
	return out
}

// MetricEntry is one measurement in the metrics map.
type MetricEntry struct {
	Val  any    `json:"val"`
	Unit string `json:"unit,omitempty"`
	TS   int64  `json:"ts"`
}

// MetricsPatch patches the metrics map with {set, delete} semantics.
type MetricsPatch struct {
	Set    map[string]MetricEntry `json:"set,omitempty"`
	Delete []string               `json:"delete,omitempty"`
}

// OriginPatch may appear in a patch only to restate the identical
// origin; any actual change is rejected as immutable.
type OriginPatch struct {
	Type   Field[OriginType] `json:"type"`
	System Field[string]     `json:"system"`
	ID     Field[string]     `json:"id"`
}

// LifecyclePatch shallow-merges into Lifecycle.
type LifecyclePatch struct {
	State          Field[State]  `json:"state"`
	StateChangedAt Field[int64]  `json:"stateChangedAt"`
	StateChangedBy Field[string] `json:"stateChangedBy"`
}

// TimingPatch shallow-merges into Timing. CreatedAt may only restate
// the existing value.
type TimingPatch struct {
	CreatedAt   Field[int64]            `json:"createdAt"`
	DueAt       Field[int64]            `json:"dueAt"`
	StartAt     Field[int64]            `json:"startAt"`
	EndAt       Field[int64]            `json:"endAt"`
	NotifyAt    Field[int64]            `json:"notifyAt"`
	ExpiresAt   Field[int64]            `json:"expiresAt"`
	RemindEvery Field[int64]            `json:"remindEvery"`
	TimeBudget  Field[int64]            `json:"timeBudget"`
	Cooldown    Field[int64]            `json:"cooldown"`
	NotifiedAt  Field[map[string]int64] `json:"notifiedAt"`
}

// DetailsPatch shallow-merges into Details.
type DetailsPatch struct {
	Location    Field[string]       `json:"location"`
	Task        Field[string]       `json:"task"`
	Tools       Field[StringsPatch] `json:"tools"`
	Consumables Field[StringsPatch] `json:"consumables"`
	Reason      Field[string]       `json:"reason"`
}

// ChannelsPatch shallow-merges into Channels.
type ChannelsPatch struct {
	Include Field[StringsPatch] `json:"include"`
	Exclude Field[StringsPatch] `json:"exclude"`
}

// AudiencePatch shallow-merges into Audience.
type AudiencePatch struct {
	Tags     Field[StringsPatch]  `json:"tags"`
	Channels Field[ChannelsPatch] `json:"channels"`
}

// ProgressPatch shallow-merges into Progress.
type ProgressPatch struct {
	Percentage Field[float64] `json:"percentage"`
	StartedAt  Field[int64]   `json:"startedAt"`
	FinishedAt Field[int64]   `json:"finishedAt"`
}

// Patch describes a partial update of a message. Absent fields keep
// the existing value; null fields remove it; present fields replace
// or merge per field type. Ref, Kind, Origin and Timing.CreatedAt are
// immutable and may only restate their current value.
type Patch struct {
	Ref          Field[string]         `json:"ref"`
	Title        Field[string]         `json:"title"`
	Text         Field[string]         `json:"text"`
	Level        Field[Level]          `json:"level"`
	Kind         Field[Kind]           `json:"kind"`
	Origin       Field[OriginPatch]    `json:"origin"`
	Lifecycle    Field[LifecyclePatch] `json:"lifecycle"`
	Timing       Field[TimingPatch]    `json:"timing"`
	Details      Field[DetailsPatch]   `json:"details"`
	Audience     Field[AudiencePatch]  `json:"audience"`
	Progress     Field[ProgressPatch]  `json:"progress"`
	Dependencies Field[StringsPatch]   `json:"dependencies"`
	Metrics      Field[MetricsPatch]   `json:"metrics"`
	// Attachments carry no id key and only replace wholesale.
	Attachments Field[[]Attachment]         `json:"attachments"`
	Actions     Field[ItemsPatch[Action]]   `json:"actions"`
	ListItems   Field[ItemsPatch[ListItem]] `json:"listItems"`
}

// ParsePatch decodes a JSON patch document.
func ParsePatch(data []byte) (*Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("message: parse patch: %w", err)
	}
	return &p, nil
}
