package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/msghub/msghub/internal/message"
)

// Filterable and sortable field names. Anything else is rejected, the
// query surface is deliberately not a query language.
const (
	FieldKind       = "kind"
	FieldState      = "lifecycle.state"
	FieldLevel      = "level"
	FieldSystem     = "origin.system"
	FieldLocation   = "details.location"
	FieldTitle      = "title"
	FieldCreatedAt  = "timing.createdAt"
	FieldUpdatedAt  = "timing.updatedAt"
	FieldPercentage = "progress.percentage"
)

var filterFields = map[string]bool{
	FieldKind:     true,
	FieldState:    true,
	FieldLevel:    true,
	FieldSystem:   true,
	FieldLocation: true,
}

var sortFields = map[string]bool{
	FieldKind:       true,
	FieldState:      true,
	FieldLevel:      true,
	FieldSystem:     true,
	FieldLocation:   true,
	FieldTitle:      true,
	FieldCreatedAt:  true,
	FieldUpdatedAt:  true,
	FieldPercentage: true,
}

// InFilter matches when the field value equals any listed value.
type InFilter struct {
	In []any `json:"in"`
}

// Where is the whitelisted predicate: field name to in-list, all
// conditions ANDed.
type Where map[string]InFilter

// SortKey orders results by one field.
type SortKey struct {
	Field string `json:"field"`
	Dir   string `json:"dir,omitempty"`
}

// Page selects one result page. Index is 1-based; Size 0 returns the
// full set as a single page.
type Page struct {
	Index int `json:"index,omitempty"`
	Size  int `json:"size,omitempty"`
}

// QueryRequest is the full query document.
type QueryRequest struct {
	Where Where     `json:"where,omitempty"`
	Page  Page      `json:"page,omitempty"`
	Sort  []SortKey `json:"sort,omitempty"`
}

// QueryMeta describes the moment and time zone the result was built in.
type QueryMeta struct {
	GeneratedAt int64  `json:"generatedAt"`
	TZ          string `json:"tz"`
}

// QueryResult is one page of matching messages.
type QueryResult struct {
	Items []*message.Message `json:"items"`
	Total int                `json:"total"`
	Pages int                `json:"pages"`
	Meta  QueryMeta          `json:"meta"`
}

// Query filters, sorts and pages the message list. Unknown filter or
// sort fields are an error, negative page parameters too.
func (s *Store) Query(req QueryRequest) (*QueryResult, error) {
	for field := range req.Where {
		if !filterFields[field] {
			return nil, fmt.Errorf("store: unsupported filter field %q", field)
		}
	}
	for _, k := range req.Sort {
		if !sortFields[k.Field] {
			return nil, fmt.Errorf("store: unsupported sort field %q", k.Field)
		}
		if k.Dir != "" && k.Dir != "asc" && k.Dir != "desc" {
			return nil, fmt.Errorf("store: unsupported sort direction %q", k.Dir)
		}
	}
	if req.Page.Size < 0 || req.Page.Index < 0 {
		return nil, fmt.Errorf("store: negative page parameters")
	}

	matched := make([]*message.Message, 0)
	for _, m := range s.Messages() {
		if matchWhere(m, req.Where) {
			matched = append(matched, m)
		}
	}

	sortMessages(matched, req.Sort)

	now := s.clock.Now()
	zone, _ := now.Zone()
	res := &QueryResult{
		Total: len(matched),
		Meta:  QueryMeta{GeneratedAt: now.UnixMilli(), TZ: zone},
	}

	if req.Page.Size == 0 {
		res.Items = matched
		res.Pages = 1
		return res, nil
	}

	res.Pages = (len(matched) + req.Page.Size - 1) / req.Page.Size
	index := req.Page.Index
	if index == 0 {
		index = 1
	}
	start := (index - 1) * req.Page.Size
	if start >= len(matched) {
		res.Items = []*message.Message{}
		return res, nil
	}
	end := start + req.Page.Size
	if end > len(matched) {
		end = len(matched)
	}
	res.Items = matched[start:end]
	return res, nil
}

// matchWhere ANDs all in-filters over m.
func matchWhere(m *message.Message, where Where) bool {
	for field, f := range where {
		if !matchIn(fieldValue(m, field), f.In) {
			return false
		}
	}
	return true
}

// matchIn compares loosely: numbers fold to float64, everything else
// compares as string.
func matchIn(val any, in []any) bool {
	for _, candidate := range in {
		if vn, ok := asNumber(val); ok {
			if cn, cok := asNumber(candidate); cok && vn == cn {
				return true
			}
			continue
		}
		if fmt.Sprint(val) == fmt.Sprint(candidate) {
			return true
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case message.Level:
		return float64(n), true
	}
	return 0, false
}

// fieldValue extracts one whitelisted field from m.
func fieldValue(m *message.Message, field string) any {
	switch field {
	case FieldKind:
		return string(m.Kind)
	case FieldState:
		return string(m.Lifecycle.State)
	case FieldLevel:
		return float64(m.Level)
	case FieldSystem:
		return m.Origin.System
	case FieldLocation:
		if m.Details == nil {
			return ""
		}
		return m.Details.Location
	case FieldTitle:
		return m.Title
	case FieldCreatedAt:
		return float64(m.Timing.CreatedAt)
	case FieldUpdatedAt:
		return float64(m.Timing.UpdatedAt)
	case FieldPercentage:
		if m.Progress == nil || m.Progress.Percentage == nil {
			return float64(-1)
		}
		return float64(*m.Progress.Percentage)
	}
	return nil
}

// sortMessages orders msgs by the sort keys in order, stable, with ref
// as the final tiebreak.
func sortMessages(msgs []*message.Message, keys []SortKey) {
	sort.SliceStable(msgs, func(i, j int) bool {
		for _, k := range keys {
			c := compareField(msgs[i], msgs[j], k.Field)
			if k.Dir == "desc" {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return msgs[i].Ref < msgs[j].Ref
	})
}

func compareField(a, b *message.Message, field string) int {
	av, bv := fieldValue(a, field), fieldValue(b, field)
	if an, ok := asNumber(av); ok {
		bn, _ := asNumber(bv)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
}
