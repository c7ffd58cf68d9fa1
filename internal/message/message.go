// Package message defines the canonical message entity and the factory
// that validates and normalizes message creation and patching. The
// factory is the only code allowed to produce or mutate messages; the
// store treats its output as authoritative.
package message

import (
	"encoding/json"
	"strings"

	"github.com/msghub/msghub/internal/msgcodec"
)

// Kind tags the message's domain category. Immutable after creation.
type Kind string

const (
	KindTask         Kind = "task"
	KindAppointment  Kind = "appointment"
	KindStatus       Kind = "status"
	KindShoppingList Kind = "shoppinglist"
	KindNote         Kind = "note"
)

// Kinds lists all valid kinds.
var Kinds = []Kind{KindTask, KindAppointment, KindStatus, KindShoppingList, KindNote}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, v := range Kinds {
		if k == v {
			return true
		}
	}
	return false
}

// Level is the message severity.
type Level int

const (
	LevelInfo     Level = 10
	LevelNotice   Level = 20
	LevelWarning  Level = 30
	LevelCritical Level = 40
)

// Levels lists all valid levels.
var Levels = []Level{LevelInfo, LevelNotice, LevelWarning, LevelCritical}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	for _, v := range Levels {
		if l == v {
			return true
		}
	}
	return false
}

// State is the lifecycle state.
type State string

const (
	StateOpen    State = "open"
	StateAcked   State = "acked"
	StateSnoozed State = "snoozed"
	StateClosed  State = "closed"
	StateDeleted State = "deleted"
	StateExpired State = "expired"
)

// States lists all valid lifecycle states.
var States = []State{StateOpen, StateAcked, StateSnoozed, StateClosed, StateDeleted, StateExpired}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateDeleted || s == StateExpired
}

// QuasiDeleted reports whether s is excluded from schedule statistics.
func (s State) QuasiDeleted() bool {
	return s == StateDeleted || s == StateExpired
}

// OriginType tags who created a message.
type OriginType string

const (
	OriginManual     OriginType = "manual"
	OriginImport     OriginType = "import"
	OriginAutomation OriginType = "automation"
)

// OriginTypes lists all valid origin types.
var OriginTypes = []OriginType{OriginManual, OriginImport, OriginAutomation}

// Valid reports whether o is a known origin type.
func (o OriginType) Valid() bool {
	for _, v := range OriginTypes {
		if o == v {
			return true
		}
	}
	return false
}

// Origin records where a message came from. Immutable after creation.
type Origin struct {
	Type   OriginType `json:"type"`
	System string     `json:"system,omitempty"`
	ID     string     `json:"id,omitempty"`
}

// Lifecycle tracks the message's state transitions.
type Lifecycle struct {
	State          State  `json:"state"`
	StateChangedAt int64  `json:"stateChangedAt,omitempty"`
	StateChangedBy string `json:"stateChangedBy,omitempty"`
}

// Timing holds all timestamps, as epoch milliseconds.
type Timing struct {
	CreatedAt   int64            `json:"createdAt"`
	UpdatedAt   int64            `json:"updatedAt,omitempty"`
	DueAt       int64            `json:"dueAt,omitempty"`
	StartAt     int64            `json:"startAt,omitempty"`
	EndAt       int64            `json:"endAt,omitempty"`
	NotifyAt    int64            `json:"notifyAt,omitempty"`
	ExpiresAt   int64            `json:"expiresAt,omitempty"`
	RemindEvery int64            `json:"remindEvery,omitempty"`
	TimeBudget  int64            `json:"timeBudget,omitempty"`
	Cooldown    int64            `json:"cooldown,omitempty"`
	NotifiedAt  map[string]int64 `json:"notifiedAt,omitempty"`
}

// StringList is a []string that also unmarshals from a CSV string, so
// ingest plugins may hand over "a, b, c" where the model wants a list.
type StringList []string

// UnmarshalJSON accepts a JSON array of strings or a single CSV string.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}
	var csv string
	if err := json.Unmarshal(data, &csv); err != nil {
		return err
	}
	*s = SplitCSV(csv)
	return nil
}

// SplitCSV splits a comma-separated string into trimmed, non-empty parts.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Details carries free-form descriptive fields.
type Details struct {
	Location    string     `json:"location,omitempty"`
	Task        string     `json:"task,omitempty"`
	Tools       StringList `json:"tools,omitempty"`
	Consumables StringList `json:"consumables,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Channels selects notification channels by include/exclude lists.
type Channels struct {
	Include StringList `json:"include,omitempty"`
	Exclude StringList `json:"exclude,omitempty"`
}

// Audience scopes who a message is for.
type Audience struct {
	Tags     StringList `json:"tags,omitempty"`
	Channels *Channels  `json:"channels,omitempty"`
}

// Progress tracks completion of task-like messages.
type Progress struct {
	Percentage *int  `json:"percentage,omitempty"`
	StartedAt  int64 `json:"startedAt,omitempty"`
	FinishedAt int64 `json:"finishedAt,omitempty"`
}

// AttachmentType is the whitelist for attachment kinds.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentLink  AttachmentType = "link"
	AttachmentFile  AttachmentType = "file"
	AttachmentState AttachmentType = "state"
)

// AttachmentTypes lists all valid attachment types.
var AttachmentTypes = []AttachmentType{AttachmentImage, AttachmentLink, AttachmentFile, AttachmentState}

// Valid reports whether t is a known attachment type.
func (t AttachmentType) Valid() bool {
	for _, v := range AttachmentTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Attachment is a typed reference carried by a message.
type Attachment struct {
	Type  AttachmentType `json:"type"`
	Value string         `json:"value"`
}

// ActionType is the whitelist for executable actions.
type ActionType string

const (
	ActionAck    ActionType = "ack"
	ActionSnooze ActionType = "snooze"
	ActionClose  ActionType = "close"
	ActionDelete ActionType = "delete"
	ActionReopen ActionType = "reopen"
	ActionCustom ActionType = "custom"
)

// ActionTypes lists all valid action types.
var ActionTypes = []ActionType{ActionAck, ActionSnooze, ActionClose, ActionDelete, ActionReopen, ActionCustom}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, v := range ActionTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Action is an executable operation offered on a message.
type Action struct {
	Type    ActionType     `json:"type"`
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ListItem is one entry of a shopping list message.
type ListItem struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Checked bool   `json:"checked"`
}

// Message is the canonical entity the hub is authoritative for.
// Ref, Kind, Origin and Timing.CreatedAt never change after creation.
type Message struct {
	Ref          string        `json:"ref"`
	Title        string        `json:"title"`
	Text         string        `json:"text"`
	Level        Level         `json:"level"`
	Kind         Kind          `json:"kind"`
	Origin       Origin        `json:"origin"`
	Lifecycle    Lifecycle     `json:"lifecycle"`
	Timing       Timing        `json:"timing"`
	Details      *Details      `json:"details,omitempty"`
	Audience     *Audience     `json:"audience,omitempty"`
	Progress     *Progress     `json:"progress,omitempty"`
	Dependencies StringList    `json:"dependencies,omitempty"`
	Metrics      *msgcodec.Map `json:"metrics,omitempty"`
	Attachments  []Attachment  `json:"attachments,omitempty"`
	Actions      []Action      `json:"actions,omitempty"`
	ListItems    []ListItem    `json:"listItems,omitempty"`
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Timing.NotifiedAt != nil {
		c.Timing.NotifiedAt = make(map[string]int64, len(m.Timing.NotifiedAt))
		for k, v := range m.Timing.NotifiedAt {
			c.Timing.NotifiedAt[k] = v
		}
	}
	if m.Details != nil {
		d := *m.Details
		d.Tools = append(StringList(nil), m.Details.Tools...)
		d.Consumables = append(StringList(nil), m.Details.Consumables...)
		c.Details = &d
	}
	if m.Audience != nil {
		a := Audience{Tags: append(StringList(nil), m.Audience.Tags...)}
		if m.Audience.Channels != nil {
			a.Channels = &Channels{
				Include: append(StringList(nil), m.Audience.Channels.Include...),
				Exclude: append(StringList(nil), m.Audience.Channels.Exclude...),
			}
		}
		c.Audience = &a
	}
	if m.Progress != nil {
		p := *m.Progress
		if m.Progress.Percentage != nil {
			v := *m.Progress.Percentage
			p.Percentage = &v
		}
		c.Progress = &p
	}
	c.Dependencies = append(StringList(nil), m.Dependencies...)
	c.Metrics = m.Metrics.Clone()
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Actions != nil {
		c.Actions = make([]Action, len(m.Actions))
		for i, a := range m.Actions {
			c.Actions[i] = a
			if a.Payload != nil {
				c.Actions[i].Payload = make(map[string]any, len(a.Payload))
				for k, v := range a.Payload {
					c.Actions[i].Payload[k] = v
				}
			}
		}
	}
	c.ListItems = append([]ListItem(nil), m.ListItems...)
	return &c
}

// Equal reports deep structural equality of two messages, including
// Metrics maps.
func Equal(a, b *Message) bool {
	return msgcodec.Equal(a, b)
}

// FindAction returns the action with the given id, or nil.
func (m *Message) FindAction(actionID string) *Action {
	for i := range m.Actions {
		if m.Actions[i].ID == actionID {
			return &m.Actions[i]
		}
	}
	return nil
}
