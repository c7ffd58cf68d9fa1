package message

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/id"
	"github.com/msghub/msghub/internal/msgcodec"
	"github.com/msghub/msghub/internal/util/sanitize"
)

// ValidationError reports a hard-invalid field on create or patch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("message: invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Timestamp plausibility window, epoch milliseconds: 2000..2100.
const (
	minPlausibleTS = 946684800000  // 2000-01-01
	maxPlausibleTS = 4102444800000 // 2100-01-01
)

// maxTitleLen bounds message titles; automations sometimes forward raw
// device output as titles.
const maxTitleLen = 300

// Factory validates and normalizes messages. It is pure apart from the
// injected clock and logging; it never touches storage.
type Factory struct {
	clock clock.Clock
	log   *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(clk clock.Clock, log *slog.Logger) *Factory {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Factory{clock: clk, log: log.With("component", "factory")}
}

// Create validates and normalizes input into a new message. The ref is
// auto-filled when missing; Timing.CreatedAt is always stamped with
// the current time regardless of input.
func (f *Factory) Create(in *Message) (*Message, error) {
	if in == nil {
		err := invalid("message", "nil input")
		f.log.Error("create rejected", "error", err)
		return nil, err
	}
	m := in.Clone()
	now := f.clock.Now().UnixMilli()

	m.Ref = strings.TrimSpace(m.Ref)
	if m.Ref == "" {
		m.Ref = f.autofillRef(m, now)
	}

	m.Timing.CreatedAt = now
	m.Timing.UpdatedAt = 0
	if m.Lifecycle.State == "" {
		m.Lifecycle.State = StateOpen
	}

	if err := f.normalize(m); err != nil {
		f.log.Error("create rejected", "ref", m.Ref, "error", err)
		return nil, err
	}
	return m, nil
}

// autofillRef builds a stable ref <originType>-<kind>-<system>-<hash>.
// Imports merely warn; automations should always carry a ref, so a
// missing one is logged as an error (the message is still created).
func (f *Factory) autofillRef(m *Message, now int64) string {
	seed := m.Origin.ID
	if seed == "" {
		seed = m.Title
	}
	if seed == "" {
		seed = strconv.FormatInt(now, 10)
	}
	sum := sha1.Sum([]byte(seed))
	ref := fmt.Sprintf("%s-%s-%s-%s", m.Origin.Type, m.Kind,
		strings.TrimSpace(m.Origin.System), hex.EncodeToString(sum[:4]))
	switch m.Origin.Type {
	case OriginAutomation:
		f.log.Error("automation message without ref, generated one", "ref", ref, "title", m.Title)
	case OriginImport:
		f.log.Warn("imported message without ref, generated one", "ref", ref, "title", m.Title)
	}
	return ref
}

// Apply merges patch into existing and returns the new message.
// existing is not mutated. When the patch changes anything meaningful
// and stealth is false, Timing.UpdatedAt is bumped. Stealth is
// reserved for internal scheduler bookkeeping.
func (f *Factory) Apply(existing *Message, patch *Patch, stealth bool) (*Message, error) {
	if existing == nil || patch == nil {
		err := invalid("patch", "nil input")
		f.log.Error("patch rejected", "error", err)
		return nil, err
	}
	if err := f.checkImmutable(existing, patch); err != nil {
		f.log.Error("patch rejected", "ref", existing.Ref, "error", err)
		return nil, err
	}

	m := existing.Clone()
	f.applyFields(m, patch)

	if err := f.normalize(m); err != nil {
		f.log.Error("patch rejected", "ref", existing.Ref, "error", err)
		return nil, err
	}

	if !stealth && !Equal(existing, m) {
		m.Timing.UpdatedAt = f.clock.Now().UnixMilli()
	}
	return m, nil
}

// Replace validates in like Create but keeps existing's identity: ref,
// kind, origin and createdAt are taken from existing and must not
// conflict with in. Used by the add-or-update path when the ref is
// already known.
func (f *Factory) Replace(existing, in *Message) (*Message, error) {
	if existing == nil || in == nil {
		err := invalid("message", "nil input")
		f.log.Error("replace rejected", "error", err)
		return nil, err
	}
	if ref := strings.TrimSpace(in.Ref); ref != "" && ref != existing.Ref {
		err := invalid("ref", "immutable")
		f.log.Error("replace rejected", "ref", existing.Ref, "error", err)
		return nil, err
	}
	if in.Kind != "" && in.Kind != existing.Kind {
		err := invalid("kind", "immutable")
		f.log.Error("replace rejected", "ref", existing.Ref, "error", err)
		return nil, err
	}
	if in.Origin.Type != "" && in.Origin != existing.Origin {
		err := invalid("origin", "immutable")
		f.log.Error("replace rejected", "ref", existing.Ref, "error", err)
		return nil, err
	}

	m := in.Clone()
	m.Ref = existing.Ref
	m.Kind = existing.Kind
	m.Origin = existing.Origin
	m.Timing.CreatedAt = existing.Timing.CreatedAt
	m.Timing.UpdatedAt = existing.Timing.UpdatedAt
	if m.Lifecycle.State == "" {
		m.Lifecycle = existing.Lifecycle
	}
	if err := f.normalize(m); err != nil {
		f.log.Error("replace rejected", "ref", existing.Ref, "error", err)
		return nil, err
	}
	if !Equal(existing, m) {
		m.Timing.UpdatedAt = f.clock.Now().UnixMilli()
	}
	return m, nil
}

// checkImmutable rejects patches that change ref, kind, origin or
// createdAt; restating the identical normalized value is allowed.
func (f *Factory) checkImmutable(existing *Message, p *Patch) error {
	if p.Ref.Present() {
		if p.Ref.Removed() || strings.TrimSpace(p.Ref.Value()) != existing.Ref {
			return invalid("ref", "immutable")
		}
	}
	if p.Kind.Present() {
		if p.Kind.Removed() || p.Kind.Value() != existing.Kind {
			return invalid("kind", "immutable")
		}
	}
	if p.Origin.Present() {
		if p.Origin.Removed() {
			return invalid("origin", "immutable")
		}
		op := p.Origin.Value()
		if op.Type.Present() && (op.Type.Removed() || op.Type.Value() != existing.Origin.Type) {
			return invalid("origin.type", "immutable")
		}
		if op.System.Present() && (op.System.Removed() || strings.TrimSpace(op.System.Value()) != existing.Origin.System) {
			return invalid("origin.system", "immutable")
		}
		if op.ID.Present() && (op.ID.Removed() || strings.TrimSpace(op.ID.Value()) != existing.Origin.ID) {
			return invalid("origin.id", "immutable")
		}
	}
	if p.Timing.Present() && !p.Timing.Removed() {
		tp := p.Timing.Value()
		if tp.CreatedAt.Present() && (tp.CreatedAt.Removed() || tp.CreatedAt.Value() != existing.Timing.CreatedAt) {
			return invalid("timing.createdAt", "immutable")
		}
	}
	return nil
}

// applyFields merges every present patch field into m.
func (f *Factory) applyFields(m *Message, p *Patch) {
	if p.Title.Present() {
		if p.Title.Removed() {
			m.Title = ""
		} else {
			m.Title = p.Title.Value()
		}
	}
	if p.Text.Present() {
		if p.Text.Removed() {
			m.Text = ""
		} else {
			m.Text = p.Text.Value()
		}
	}
	if p.Level.Present() && !p.Level.Removed() {
		m.Level = p.Level.Value()
	}

	if p.Lifecycle.Present() && !p.Lifecycle.Removed() {
		lp := p.Lifecycle.Value()
		if lp.State.Present() && !lp.State.Removed() {
			if lp.State.Value() != m.Lifecycle.State {
				m.Lifecycle.StateChangedAt = f.clock.Now().UnixMilli()
			}
			m.Lifecycle.State = lp.State.Value()
		}
		applyScalar(&m.Lifecycle.StateChangedAt, lp.StateChangedAt)
		applyScalar(&m.Lifecycle.StateChangedBy, lp.StateChangedBy)
	}

	if p.Timing.Present() && !p.Timing.Removed() {
		tp := p.Timing.Value()
		applyScalar(&m.Timing.DueAt, tp.DueAt)
		applyScalar(&m.Timing.StartAt, tp.StartAt)
		applyScalar(&m.Timing.EndAt, tp.EndAt)
		applyScalar(&m.Timing.NotifyAt, tp.NotifyAt)
		applyScalar(&m.Timing.ExpiresAt, tp.ExpiresAt)
		applyScalar(&m.Timing.RemindEvery, tp.RemindEvery)
		applyScalar(&m.Timing.TimeBudget, tp.TimeBudget)
		applyScalar(&m.Timing.Cooldown, tp.Cooldown)
		if tp.NotifiedAt.Present() {
			if tp.NotifiedAt.Removed() {
				m.Timing.NotifiedAt = nil
			} else {
				if m.Timing.NotifiedAt == nil {
					m.Timing.NotifiedAt = make(map[string]int64)
				}
				for k, v := range tp.NotifiedAt.Value() {
					m.Timing.NotifiedAt[k] = v
				}
			}
		}
	}

	if p.Details.Present() {
		if p.Details.Removed() {
			m.Details = nil
		} else {
			if m.Details == nil {
				m.Details = &Details{}
			}
			dp := p.Details.Value()
			applyScalar(&m.Details.Location, dp.Location)
			applyScalar(&m.Details.Task, dp.Task)
			applyScalar(&m.Details.Reason, dp.Reason)
			if dp.Tools.Present() {
				if dp.Tools.Removed() {
					m.Details.Tools = nil
				} else {
					m.Details.Tools = dp.Tools.Value().apply(m.Details.Tools)
				}
			}
			if dp.Consumables.Present() {
				if dp.Consumables.Removed() {
					m.Details.Consumables = nil
				} else {
					m.Details.Consumables = dp.Consumables.Value().apply(m.Details.Consumables)
				}
			}
		}
	}

	if p.Audience.Present() {
		if p.Audience.Removed() {
			m.Audience = nil
		} else {
			if m.Audience == nil {
				m.Audience = &Audience{}
			}
			ap := p.Audience.Value()
			if ap.Tags.Present() {
				if ap.Tags.Removed() {
					m.Audience.Tags = nil
				} else {
					m.Audience.Tags = ap.Tags.Value().apply(m.Audience.Tags)
				}
			}
			if ap.Channels.Present() {
				if ap.Channels.Removed() {
					m.Audience.Channels = nil
				} else {
					if m.Audience.Channels == nil {
						m.Audience.Channels = &Channels{}
					}
					cp := ap.Channels.Value()
					if cp.Include.Present() {
						if cp.Include.Removed() {
							m.Audience.Channels.Include = nil
						} else {
							m.Audience.Channels.Include = cp.Include.Value().apply(m.Audience.Channels.Include)
						}
					}
					if cp.Exclude.Present() {
						if cp.Exclude.Removed() {
							m.Audience.Channels.Exclude = nil
						} else {
							m.Audience.Channels.Exclude = cp.Exclude.Value().apply(m.Audience.Channels.Exclude)
						}
					}
				}
			}
		}
	}

	if p.Progress.Present() {
		if p.Progress.Removed() {
			m.Progress = nil
		} else {
			if m.Progress == nil {
				m.Progress = &Progress{}
			}
			pp := p.Progress.Value()
			if pp.Percentage.Present() {
				if pp.Percentage.Removed() {
					m.Progress.Percentage = nil
				} else {
					// Truncate, not round.
					v := int(pp.Percentage.Value())
					m.Progress.Percentage = &v
				}
			}
			applyScalar(&m.Progress.StartedAt, pp.StartedAt)
			applyScalar(&m.Progress.FinishedAt, pp.FinishedAt)
		}
	}

	if p.Dependencies.Present() {
		if p.Dependencies.Removed() {
			m.Dependencies = nil
		} else {
			m.Dependencies = p.Dependencies.Value().apply(m.Dependencies)
		}
	}

	if p.Metrics.Present() {
		if p.Metrics.Removed() {
			m.Metrics = nil
		} else {
			mp := p.Metrics.Value()
			if m.Metrics == nil {
				m.Metrics = msgcodec.NewMap()
			}
			for k, entry := range mp.Set {
				m.Metrics.Set(k, metricValue(entry))
			}
			for _, k := range mp.Delete {
				m.Metrics.Delete(k)
			}
		}
	}

	if p.Attachments.Present() {
		if p.Attachments.Removed() {
			m.Attachments = nil
		} else {
			m.Attachments = p.Attachments.Value()
		}
	}

	if p.Actions.Present() {
		if p.Actions.Removed() {
			m.Actions = nil
		} else {
			m.Actions = applyItems(m.Actions, p.Actions.Value(),
				func(a Action) string { return a.ID },
				func(a Action, id string) Action { a.ID = id; return a })
		}
	}

	if p.ListItems.Present() {
		if p.ListItems.Removed() {
			m.ListItems = nil
		} else {
			m.ListItems = applyItems(m.ListItems, p.ListItems.Value(),
				func(i ListItem) string { return i.ID },
				func(i ListItem, id string) ListItem { i.ID = id; return i })
		}
	}
}

// applyScalar merges a tri-state scalar field: remove zeroes, set
// replaces, absent keeps.
func applyScalar[T any](dst *T, f Field[T]) {
	if !f.Present() {
		return
	}
	if f.Removed() {
		var zero T
		*dst = zero
		return
	}
	*dst = f.Value()
}

// normalize trims, de-dupes and validates m in place. Shared by Create
// and Apply so both enforce identical rules.
func (f *Factory) normalize(m *Message) error {
	m.Title = sanitize.Text(m.Title, maxTitleLen)
	if m.Title == "" {
		return invalid("title", "required")
	}
	if !m.Level.Valid() {
		return invalid("level", fmt.Sprintf("unknown level %d", m.Level))
	}
	if !m.Kind.Valid() {
		return invalid("kind", fmt.Sprintf("unknown kind %q", m.Kind))
	}
	if !m.Origin.Type.Valid() {
		return invalid("origin.type", fmt.Sprintf("unknown origin type %q", m.Origin.Type))
	}
	m.Origin.System = strings.TrimSpace(m.Origin.System)
	m.Origin.ID = strings.TrimSpace(m.Origin.ID)

	if !m.Lifecycle.State.Valid() {
		return invalid("lifecycle.state", fmt.Sprintf("unknown state %q", m.Lifecycle.State))
	}

	if err := f.normalizeTiming(m); err != nil {
		return err
	}

	if m.Details != nil {
		m.Details.Location = strings.TrimSpace(m.Details.Location)
		m.Details.Task = strings.TrimSpace(m.Details.Task)
		m.Details.Reason = strings.TrimSpace(m.Details.Reason)
		m.Details.Tools = normalizeList(m.Details.Tools)
		m.Details.Consumables = normalizeList(m.Details.Consumables)
	}
	if m.Audience != nil {
		m.Audience.Tags = normalizeList(m.Audience.Tags)
		if m.Audience.Channels != nil {
			m.Audience.Channels.Include = normalizeList(m.Audience.Channels.Include)
			m.Audience.Channels.Exclude = normalizeList(m.Audience.Channels.Exclude)
		}
	}
	if m.Progress != nil && m.Progress.Percentage != nil {
		if *m.Progress.Percentage < 0 || *m.Progress.Percentage > 100 {
			return invalid("progress.percentage", "out of range 0..100")
		}
	}
	m.Dependencies = normalizeList(m.Dependencies)

	if m.Metrics != nil {
		var metricErr error
		m.Metrics.Range(func(key string, value any) bool {
			metricErr = validateMetric(key, value)
			return metricErr == nil
		})
		if metricErr != nil {
			return metricErr
		}
	}

	for i := range m.Attachments {
		if !m.Attachments[i].Type.Valid() {
			return invalid("attachments.type", fmt.Sprintf("unknown attachment type %q", m.Attachments[i].Type))
		}
	}
	for i := range m.Actions {
		if !m.Actions[i].Type.Valid() {
			return invalid("actions.type", fmt.Sprintf("unknown action type %q", m.Actions[i].Type))
		}
		if m.Actions[i].ID == "" {
			m.Actions[i].ID = id.Generate()
		}
	}
	if len(m.ListItems) > 0 && m.Kind != KindShoppingList {
		f.log.Warn("listItems dropped for non-shoppinglist message", "ref", m.Ref, "kind", m.Kind)
		m.ListItems = nil
	}
	for i := range m.ListItems {
		if m.ListItems[i].ID == "" {
			m.ListItems[i].ID = id.Generate()
		}
	}
	return nil
}

// normalizeTiming validates timestamp plausibility and strips
// kind-foreign scheduling fields.
func (f *Factory) normalizeTiming(m *Message) error {
	t := &m.Timing
	for _, ts := range []struct {
		name string
		val  int64
	}{
		{"timing.createdAt", t.CreatedAt},
		{"timing.updatedAt", t.UpdatedAt},
		{"timing.dueAt", t.DueAt},
		{"timing.startAt", t.StartAt},
		{"timing.endAt", t.EndAt},
		{"timing.notifyAt", t.NotifyAt},
		{"timing.expiresAt", t.ExpiresAt},
	} {
		if ts.val != 0 && (ts.val < minPlausibleTS || ts.val > maxPlausibleTS) {
			return invalid(ts.name, fmt.Sprintf("implausible timestamp %d", ts.val))
		}
	}
	for k, v := range t.NotifiedAt {
		if v != 0 && (v < minPlausibleTS || v > maxPlausibleTS) {
			return invalid("timing.notifiedAt."+k, fmt.Sprintf("implausible timestamp %d", v))
		}
	}

	if t.DueAt != 0 && m.Kind != KindTask {
		f.log.Debug("dueAt dropped for non-task message", "ref", m.Ref, "kind", m.Kind)
		t.DueAt = 0
	}
	if (t.StartAt != 0 || t.EndAt != 0) && m.Kind != KindAppointment {
		f.log.Debug("startAt/endAt dropped for non-appointment message", "ref", m.Ref, "kind", m.Kind)
		t.StartAt = 0
		t.EndAt = 0
	}
	return nil
}

// validateMetric checks one metrics entry: val must be primitive, ts
// plausible.
func validateMetric(key string, value any) error {
	entry, ok := value.(map[string]any)
	if !ok {
		if _, isEntry := value.(MetricEntry); isEntry {
			return nil
		}
		return invalid("metrics."+key, "entry must be an object with val/unit/ts")
	}
	switch entry["val"].(type) {
	case nil:
		return invalid("metrics."+key+".val", "required")
	case bool, string, float64, int, int64:
	default:
		// json.Number and friends.
		if _, ok := entry["val"].(interface{ Float64() (float64, error) }); !ok {
			return invalid("metrics."+key+".val", "must be a primitive")
		}
	}
	if ts, ok := numAsInt64(entry["ts"]); ok && ts != 0 && (ts < minPlausibleTS || ts > maxPlausibleTS) {
		return invalid("metrics."+key+".ts", fmt.Sprintf("implausible timestamp %d", ts))
	}
	return nil
}

func numAsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// metricValue converts a MetricEntry to the map form stored inside the
// metrics Map, so persistence and diffing see one shape.
func metricValue(e MetricEntry) map[string]any {
	out := map[string]any{"val": e.Val, "ts": e.TS}
	if e.Unit != "" {
		out["unit"] = e.Unit
	}
	return out
}

// normalizeList trims, drops empties and de-dupes while keeping first
// occurrence order.
func normalizeList(in StringList) StringList {
	if in == nil {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make(StringList, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
