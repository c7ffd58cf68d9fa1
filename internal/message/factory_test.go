package message_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/msgcodec"
)

var testNow = time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)

func newFactory(t *testing.T) (*message.Factory, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(testNow)
	return message.NewFactory(clk, nil), clk
}

func validInput() *message.Message {
	return &message.Message{
		Ref:    "a1",
		Title:  "hello",
		Text:   "",
		Level:  message.LevelNotice,
		Kind:   message.KindTask,
		Origin: message.Origin{Type: message.OriginManual, System: "ui"},
	}
}

func TestCreate_Valid(t *testing.T) {
	f, _ := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)
	assert.Equal(t, "a1", m.Ref)
	assert.Equal(t, message.StateOpen, m.Lifecycle.State)
	assert.Equal(t, testNow.UnixMilli(), m.Timing.CreatedAt)
	assert.Zero(t, m.Timing.UpdatedAt)
}

func TestCreate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*message.Message)
		field  string
	}{
		{"missing title", func(m *message.Message) { m.Title = "  " }, "title"},
		{"unknown level", func(m *message.Message) { m.Level = 15 }, "level"},
		{"unknown kind", func(m *message.Message) { m.Kind = "chore" }, "kind"},
		{"unknown origin type", func(m *message.Message) { m.Origin.Type = "robot" }, "origin.type"},
		{"unknown state", func(m *message.Message) { m.Lifecycle.State = "paused" }, "lifecycle.state"},
		{"implausible dueAt", func(m *message.Message) { m.Timing.DueAt = 1 }, "timing.dueAt"},
		{"bad attachment type", func(m *message.Message) {
			m.Attachments = []message.Attachment{{Type: "video", Value: "x"}}
		}, "attachments.type"},
		{"bad action type", func(m *message.Message) {
			m.Actions = []message.Action{{Type: "explode"}}
		}, "actions.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newFactory(t)
			in := validInput()
			tt.mutate(in)
			_, err := f.Create(in)
			var verr *message.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreate_AutofillRef(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Ref = ""
	in.Origin = message.Origin{Type: message.OriginImport, System: "alexa", ID: "item-9"}

	m, err := f.Create(in)
	require.NoError(t, err)
	assert.Regexp(t, `^import-task-alexa-[0-9a-f]{8}$`, m.Ref)

	// Same identity yields the same ref.
	in2 := validInput()
	in2.Ref = ""
	in2.Origin = message.Origin{Type: message.OriginImport, System: "alexa", ID: "item-9"}
	m2, err := f.Create(in2)
	require.NoError(t, err)
	assert.Equal(t, m.Ref, m2.Ref)
}

func TestCreate_NormalizesListsAndCSV(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Details = &message.Details{Tools: message.StringList{" hammer ", "hammer", "", "saw"}}
	in.Dependencies = message.StringList{" a ", "a", "b"}

	m, err := f.Create(in)
	require.NoError(t, err)
	assert.Equal(t, message.StringList{"hammer", "saw"}, m.Details.Tools)
	assert.Equal(t, message.StringList{"a", "b"}, m.Dependencies)
}

func TestCreate_DropsKindForeignTiming(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Kind = message.KindStatus
	in.Timing.DueAt = testNow.UnixMilli()
	in.Timing.StartAt = testNow.UnixMilli()

	m, err := f.Create(in)
	require.NoError(t, err)
	assert.Zero(t, m.Timing.DueAt)
	assert.Zero(t, m.Timing.StartAt)
}

func TestCreate_ActionIDAssigned(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Actions = []message.Action{{Type: message.ActionClose}}

	m, err := f.Create(in)
	require.NoError(t, err)
	assert.NotEmpty(t, m.Actions[0].ID)
}

func TestCreate_MetricsValidated(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Metrics = msgcodec.NewMap()
	in.Metrics.Set("temp", map[string]any{"val": 21.7, "unit": "C", "ts": float64(1700000000000)})

	m, err := f.Create(in)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Metrics.Len())

	bad := validInput()
	bad.Metrics = msgcodec.NewMap()
	bad.Metrics.Set("temp", map[string]any{"unit": "C"})
	_, err = f.Create(bad)
	var verr *message.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "metrics.temp.val", verr.Field)
}

func TestCreate_SanitizesTitle(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Title = "  Dish\x00washer \x07done  "
	m, err := f.Create(in)
	require.NoError(t, err)
	assert.Equal(t, "Dishwasher done", m.Title)
}

func TestCreate_DoesNotMutateInput(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Title = "  padded  "
	_, err := f.Create(in)
	require.NoError(t, err)
	assert.Equal(t, "  padded  ", in.Title)
	assert.Zero(t, in.Timing.CreatedAt)
}

func TestApply_ImmutableFields(t *testing.T) {
	f, clk := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)
	clk.Advance(time.Minute)

	tests := []struct {
		name  string
		patch *message.Patch
		field string
	}{
		{"ref change", &message.Patch{Ref: message.Set("b2")}, "ref"},
		{"ref remove", &message.Patch{Ref: message.Remove[string]()}, "ref"},
		{"kind change", &message.Patch{Kind: message.Set(message.KindStatus)}, "kind"},
		{"origin change", &message.Patch{Origin: message.Set(message.OriginPatch{
			Type: message.Set(message.OriginImport),
		})}, "origin.type"},
		{"createdAt change", &message.Patch{Timing: message.Set(message.TimingPatch{
			CreatedAt: message.Set[int64](m.Timing.CreatedAt + 1),
		})}, "timing.createdAt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Apply(m, tt.patch, false)
			var verr *message.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestApply_IdenticalImmutableValueAccepted(t *testing.T) {
	f, _ := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)

	patch := &message.Patch{
		Ref:  message.Set(" a1 "), // normalizes to the same ref
		Kind: message.Set(message.KindTask),
		Timing: message.Set(message.TimingPatch{
			CreatedAt: message.Set(m.Timing.CreatedAt),
		}),
	}
	_, err = f.Apply(m, patch, false)
	require.NoError(t, err)
}

func TestApply_BumpsUpdatedAtOnChange(t *testing.T) {
	f, clk := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)

	later := clk.Advance(time.Hour)
	updated, err := f.Apply(m, &message.Patch{Title: message.Set("renamed")}, false)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, later.UnixMilli(), updated.Timing.UpdatedAt)
	// Original untouched.
	assert.Equal(t, "hello", m.Title)
}

func TestApply_NoOpKeepsUpdatedAt(t *testing.T) {
	f, clk := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)
	clk.Advance(time.Hour)

	updated, err := f.Apply(m, &message.Patch{Title: message.Set("hello")}, false)
	require.NoError(t, err)
	assert.Zero(t, updated.Timing.UpdatedAt)
	assert.True(t, message.Equal(m, updated))
}

func TestApply_StealthSkipsUpdatedAt(t *testing.T) {
	f, clk := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)
	clk.Advance(time.Hour)

	updated, err := f.Apply(m, &message.Patch{Timing: message.Set(message.TimingPatch{
		NotifyAt: message.Set(testNow.Add(2 * time.Hour).UnixMilli()),
	})}, true)
	require.NoError(t, err)
	assert.Zero(t, updated.Timing.UpdatedAt)
	assert.Equal(t, testNow.Add(2*time.Hour).UnixMilli(), updated.Timing.NotifyAt)
}

func TestApply_NullRemovesField(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Details = &message.Details{Location: "kitchen"}
	m, err := f.Create(in)
	require.NoError(t, err)

	updated, err := f.Apply(m, &message.Patch{Details: message.Remove[message.DetailsPatch]()}, false)
	require.NoError(t, err)
	assert.Nil(t, updated.Details)

	// Nested null removes just the sub-field.
	updated2, err := f.Apply(m, &message.Patch{Details: message.Set(message.DetailsPatch{
		Location: message.Remove[string](),
	})}, false)
	require.NoError(t, err)
	require.NotNil(t, updated2.Details)
	assert.Empty(t, updated2.Details.Location)
}

func TestApply_StateChangeStampsLifecycle(t *testing.T) {
	f, clk := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)

	later := clk.Advance(time.Minute)
	updated, err := f.Apply(m, &message.Patch{Lifecycle: message.Set(message.LifecyclePatch{
		State: message.Set(message.StateClosed),
	})}, false)
	require.NoError(t, err)
	assert.Equal(t, message.StateClosed, updated.Lifecycle.State)
	assert.Equal(t, later.UnixMilli(), updated.Lifecycle.StateChangedAt)
}

func TestApply_MetricsSetDelete(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Metrics = msgcodec.NewMap()
	in.Metrics.Set("temp", map[string]any{"val": 20.0, "ts": int64(1700000000000)})
	in.Metrics.Set("hum", map[string]any{"val": 55, "ts": int64(1700000000000)})
	m, err := f.Create(in)
	require.NoError(t, err)

	updated, err := f.Apply(m, &message.Patch{Metrics: message.Set(message.MetricsPatch{
		Set:    map[string]message.MetricEntry{"temp": {Val: 21.5, Unit: "C", TS: 1700000001000}},
		Delete: []string{"hum"},
	})}, false)
	require.NoError(t, err)
	require.Equal(t, 1, updated.Metrics.Len())
	v, ok := updated.Metrics.Get("temp")
	require.True(t, ok)
	assert.Equal(t, 21.5, v.(map[string]any)["val"])
}

func TestApply_ListItemsSetDelete(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Kind = message.KindShoppingList
	in.ListItems = []message.ListItem{
		{ID: "a", Name: "milk"},
		{ID: "b", Name: "bread"},
	}
	m, err := f.Create(in)
	require.NoError(t, err)

	updated, err := f.Apply(m, &message.Patch{ListItems: message.Set(message.ItemsPatch[message.ListItem]{
		Set:    map[string]message.ListItem{"a": {Name: "milk", Checked: true}},
		Delete: []string{"b"},
	})}, false)
	require.NoError(t, err)
	require.Len(t, updated.ListItems, 1)
	assert.Equal(t, "a", updated.ListItems[0].ID)
	assert.True(t, updated.ListItems[0].Checked)
}

func TestApply_PercentageTruncated(t *testing.T) {
	f, _ := newFactory(t)
	m, err := f.Create(validInput())
	require.NoError(t, err)

	updated, err := f.Apply(m, &message.Patch{Progress: message.Set(message.ProgressPatch{
		Percentage: message.Set(66.9),
	})}, false)
	require.NoError(t, err)
	require.NotNil(t, updated.Progress.Percentage)
	assert.Equal(t, 66, *updated.Progress.Percentage)

	_, err = f.Apply(m, &message.Patch{Progress: message.Set(message.ProgressPatch{
		Percentage: message.Set(150.0),
	})}, false)
	var verr *message.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "progress.percentage", verr.Field)
}

func TestPatch_JSONNullVsAbsent(t *testing.T) {
	p, err := message.ParsePatch([]byte(`{"text":null,"title":"new"}`))
	require.NoError(t, err)
	assert.True(t, p.Text.Removed())
	assert.True(t, p.Title.Present())
	assert.Equal(t, "new", p.Title.Value())
	assert.False(t, p.Level.Present(), "absent means keep")
}

func TestPatch_JSONArrayForms(t *testing.T) {
	p, err := message.ParsePatch([]byte(`{
		"dependencies": ["x", "y"],
		"details": {"tools": {"set": ["saw"], "delete": ["hammer"]}}
	}`))
	require.NoError(t, err)
	require.True(t, p.Dependencies.Present())
	assert.True(t, p.Dependencies.Value().WholeSet)
	tools := p.Details.Value().Tools.Value()
	assert.Equal(t, message.StringList{"saw"}, tools.Set)
	assert.Equal(t, message.StringList{"hammer"}, tools.Delete)
}

func TestMessage_JSONRoundTripWithMetrics(t *testing.T) {
	f, _ := newFactory(t)
	in := validInput()
	in.Metrics = msgcodec.NewMap()
	in.Metrics.Set("temp", map[string]any{"val": 21.7, "unit": "C", "ts": float64(1700000000000)})
	m, err := f.Create(in)
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"__msghubType":"Map"`)

	var back message.Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, message.Equal(m, &back))
}
