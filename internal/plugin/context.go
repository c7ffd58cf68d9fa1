package plugin

import (
	"errors"

	"github.com/msghub/msghub/internal/homeio"
	"github.com/msghub/msghub/internal/id"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/stats"
	"github.com/msghub/msghub/internal/store"
)

// ErrReadOnly is returned when a notifier plugin calls a mutating
// store operation.
var ErrReadOnly = errors.New("plugin: store facade is read-only")

// API is the capability surface handed to a plugin. Which facades are
// populated depends on the host role: ingest plugins get a writable
// store and the factory, engagement plugins get the action facade,
// notifiers get read-only access. Stealth updates are not exposed at
// all.
type API struct {
	Log     *Log
	Store   *StoreFacade
	Factory *FactoryFacade
	Action  *ActionFacade
	Stats   *StatsFacade
	IO      homeio.Runtime
	IDs     id.Namespace
	I18n    *I18n
}

// StoreFacade narrows store access per host role.
type StoreFacade struct {
	store    *store.Store
	writable bool
}

// Get returns the message with the given ref, or nil. Read-only.
func (f *StoreFacade) Get(ref string) *message.Message { return f.store.Get(ref) }

// Messages returns the current list. The messages are shared and must
// be treated as read-only.
func (f *StoreFacade) Messages() []*message.Message { return f.store.Messages() }

// Query runs a whitelisted filter/sort/page query.
func (f *StoreFacade) Query(req store.QueryRequest) (*store.QueryResult, error) {
	return f.store.Query(req)
}

// Add creates a new message. Ingest only.
func (f *StoreFacade) Add(in *message.Message) (*message.Message, error) {
	if !f.writable {
		return nil, ErrReadOnly
	}
	return f.store.Add(in)
}

// Update applies a patch. Ingest only.
func (f *StoreFacade) Update(ref string, patch *message.Patch) (*message.Message, error) {
	if !f.writable {
		return nil, ErrReadOnly
	}
	return f.store.Update(ref, patch)
}

// AddOrUpdate creates or replaces by ref. Ingest only.
func (f *StoreFacade) AddOrUpdate(in *message.Message) (*message.Message, error) {
	if !f.writable {
		return nil, ErrReadOnly
	}
	return f.store.AddOrUpdate(in)
}

// Remove deletes a message. Ingest only.
func (f *StoreFacade) Remove(ref string) (bool, error) {
	if !f.writable {
		return false, ErrReadOnly
	}
	return f.store.Remove(ref), nil
}

// CompleteAfterCauseEliminated closes a task (or removes a status)
// whose cause has gone away. Ingest only.
func (f *StoreFacade) CompleteAfterCauseEliminated(ref, actor string) (*message.Message, error) {
	if !f.writable {
		return nil, ErrReadOnly
	}
	return f.store.CompleteAfterCauseEliminated(ref, actor)
}

// FactoryFacade exposes the creation path to ingest plugins. CreatedAt
// is always stamped by the factory; a plugin cannot backdate it.
type FactoryFacade struct {
	factory *message.Factory
}

// CreateMessage validates and normalizes in as a new message.
func (f *FactoryFacade) CreateMessage(in *message.Message) (*message.Message, error) {
	return f.factory.Create(in)
}

// ExecuteRequest names the action an engagement plugin wants to run.
type ExecuteRequest struct {
	Ref      string         `json:"ref"`
	ActionID string         `json:"actionId"`
	Actor    string         `json:"actor"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// ActionFacade lets engagement plugins execute message actions.
type ActionFacade struct {
	store *store.Store
}

// Execute resolves the message and action, applies the action's state
// transition, archives the action event and dispatches updated.
func (f *ActionFacade) Execute(req ExecuteRequest) (*message.Message, error) {
	return f.store.ExecuteAction(req.Ref, req.ActionID, req.Actor, req.Payload)
}

// StatsFacade exposes the stats snapshot.
type StatsFacade struct {
	collect func(stats.CollectOptions) stats.Snapshot
}

// Get builds a fresh stats snapshot.
func (f *StatsFacade) Get(opts stats.CollectOptions) stats.Snapshot {
	return f.collect(opts)
}

// I18n is a map-backed translator. Unknown keys pass through.
type I18n struct {
	table map[string]string
}

// NewI18n creates a translator over table; a nil table passes all keys
// through.
func NewI18n(table map[string]string) *I18n {
	return &I18n{table: table}
}

// Translate returns the translation for key, or key itself.
func (t *I18n) Translate(key string) string {
	if t == nil || t.table == nil {
		return key
	}
	if v, ok := t.table[key]; ok {
		return v
	}
	return key
}
