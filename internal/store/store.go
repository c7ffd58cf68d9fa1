// Package store holds the authoritative in-memory message list. Every
// mutation goes through the factory, is persisted to the document
// store, archived as an event, and fanned out to notifier plugins in
// that order. Operations appear serialized from the outside.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/msghub/msghub/internal/archive"
	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/docstore"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/metrics"
	"github.com/msghub/msghub/internal/quiet"
)

// Event is a lifecycle notification fanned out to notifier plugins.
type Event string

const (
	EventCreated Event = "created"
	EventUpdated Event = "updated"
	EventDeleted Event = "deleted"
	EventDue     Event = "due"
	EventExpired Event = "expired"
)

// Events lists all dispatched lifecycle events.
var Events = []Event{EventCreated, EventUpdated, EventDeleted, EventDue, EventExpired}

// Sentinel errors for store operations.
var (
	ErrNotFound     = errors.New("store: message not found")
	ErrDuplicateRef = errors.New("store: ref already exists")
	ErrNoSuchAction = errors.New("store: no such action")
)

// Dispatcher receives post-mutation lifecycle events. Messages always
// arrive as a slice so the contract survives future batching. The
// dispatcher runs inside the operation's critical section so events
// arrive in commit order; it must not call back into mutating store
// operations.
type Dispatcher func(event Event, msgs []*message.Message)

// ClosedRecorder receives messages that transitioned to closed, for
// the stats rollup.
type ClosedRecorder interface {
	RecordClosed(*message.Message)
}

// Options configures a Store.
type Options struct {
	Factory *message.Factory
	Docs    *docstore.Store
	Archive *archive.Archive
	Clock   clock.Clock
	Quiet   quiet.Hours
	Logger  *slog.Logger
	// Rand supplies jitter for quiet-hours rescheduling; defaults to
	// math/rand.
	Rand func() float64
}

// Store is the authoritative message list.
type Store struct {
	factory *message.Factory
	docs    *docstore.Store
	archive *archive.Archive
	clock   clock.Clock
	quiet   quiet.Hours
	log     *slog.Logger
	rand    func() float64

	// opMu serializes whole mutations: the read of the current message,
	// the factory call and the commit happen under one critical section
	// so concurrent writers can never clone the same base and lose an
	// update. mu below only guards the list structures for readers.
	opMu sync.Mutex

	mu    sync.RWMutex
	list  []*message.Message
	byRef map[string]*message.Message

	dispatchMu sync.Mutex
	dispatch   Dispatcher

	closed ClosedRecorder

	timerMu sync.Mutex
	timer   *time.Timer
}

// New creates a Store. Call Load to read the persisted list, and
// SetDispatcher/SetClosedRecorder before serving traffic.
func New(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Store{
		factory: opts.Factory,
		docs:    opts.Docs,
		archive: opts.Archive,
		clock:   clk,
		quiet:   opts.Quiet,
		log:     log.With("component", "store"),
		rand:    rnd,
		byRef:   make(map[string]*message.Message),
	}
}

// SetDispatcher installs the lifecycle event sink (the notifier host).
func (s *Store) SetDispatcher(d Dispatcher) {
	s.dispatchMu.Lock()
	s.dispatch = d
	s.dispatchMu.Unlock()
}

// SetClosedRecorder installs the stats sink for closed messages.
func (s *Store) SetClosedRecorder(r ClosedRecorder) {
	s.closed = r
}

// Load reads the persisted message list. Invalid or missing documents
// start empty.
func (s *Store) Load() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var list []*message.Message
	if !s.docs.ReadJSON(&list) {
		s.log.Info("no persisted message list, starting empty")
	}
	s.mu.Lock()
	s.list = s.list[:0]
	s.byRef = make(map[string]*message.Message, len(list))
	for _, m := range list {
		if m == nil || m.Ref == "" {
			continue
		}
		if _, dup := s.byRef[m.Ref]; dup {
			s.log.Warn("duplicate ref in persisted list, keeping first", "ref", m.Ref)
			continue
		}
		s.list = append(s.list, m)
		s.byRef[m.Ref] = m
	}
	n := len(s.list)
	s.mu.Unlock()
	metrics.Messages.Set(float64(n))
	s.log.Info("message list loaded", "messages", n)
	s.Reschedule()
}

// Add creates a new message. The ref must not exist yet.
func (s *Store) Add(in *message.Message) (*message.Message, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.add(in)
}

func (s *Store) add(in *message.Message) (*message.Message, error) {
	m, err := s.factory.Create(in)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("add", "invalid").Inc()
		return nil, err
	}

	s.mu.Lock()
	if _, exists := s.byRef[m.Ref]; exists {
		s.mu.Unlock()
		metrics.OperationsTotal.WithLabelValues("add", "duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRef, m.Ref)
	}
	s.list = append(s.list, m)
	s.byRef[m.Ref] = m
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	metrics.OperationsTotal.WithLabelValues("add", "ok").Inc()
	metrics.Messages.Set(float64(len(snapshot)))
	s.docs.WriteJSON(snapshot)
	s.archive.AppendCreate(m.Ref, m)
	s.emit(EventCreated, m)
	s.Reschedule()
	return m, nil
}

// Update applies a patch to an existing message.
func (s *Store) Update(ref string, patch *message.Patch) (*message.Message, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	existing := s.Get(ref)
	if existing == nil {
		metrics.OperationsTotal.WithLabelValues("update", "missing").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return s.applyUpdate(existing, patch, false)
}

// applyUpdate runs factory.Apply and commits the result. Callers hold
// opMu and pass the current message for existing.
func (s *Store) applyUpdate(existing *message.Message, patch *message.Patch, stealth bool) (*message.Message, error) {
	updated, err := s.factory.Apply(existing, patch, stealth)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("update", "invalid").Inc()
		return nil, err
	}
	s.commitUpdate(existing, updated, patch, stealth)
	return updated, nil
}

// commitUpdate swaps the message in list and index, persists, archives
// and dispatches.
func (s *Store) commitUpdate(existing, updated *message.Message, patch *message.Patch, stealth bool) {
	s.mu.Lock()
	for i, m := range s.list {
		if m.Ref == existing.Ref {
			s.list[i] = updated
			break
		}
	}
	s.byRef[updated.Ref] = updated
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	metrics.OperationsTotal.WithLabelValues("update", "ok").Inc()
	s.docs.WriteJSON(snapshot)
	s.archive.AppendPatch(updated.Ref, patch, existing, updated)
	if !stealth {
		s.emit(EventUpdated, updated)
	}
	s.recordIfClosed(existing, updated)
	s.Reschedule()
}

// AddOrUpdate creates the message or replaces the known one with the
// same ref.
func (s *Store) AddOrUpdate(in *message.Message) (*message.Message, error) {
	if in == nil {
		return nil, &message.ValidationError{Field: "message", Reason: "nil input"}
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	existing := s.Get(in.Ref)
	if existing == nil {
		return s.add(in)
	}

	updated, err := s.factory.Replace(existing, in)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues("update", "invalid").Inc()
		return nil, err
	}
	if message.Equal(existing, updated) {
		return existing, nil
	}
	s.commitUpdate(existing, updated, nil, false)
	return updated, nil
}

// Remove deletes a message. Returns false when the ref is unknown.
func (s *Store) Remove(ref string) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.remove(ref)
}

func (s *Store) remove(ref string) bool {
	s.mu.Lock()
	m := s.byRef[ref]
	if m == nil {
		s.mu.Unlock()
		metrics.OperationsTotal.WithLabelValues("remove", "missing").Inc()
		return false
	}
	delete(s.byRef, ref)
	for i := range s.list {
		if s.list[i].Ref == ref {
			s.list = append(s.list[:i], s.list[i+1:]...)
			break
		}
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	metrics.OperationsTotal.WithLabelValues("remove", "ok").Inc()
	metrics.Messages.Set(float64(len(snapshot)))
	s.docs.WriteJSON(snapshot)
	s.archive.AppendDelete(ref, m)
	s.emit(EventDeleted, m)
	s.Reschedule()
	return true
}

// Get returns the message with the given ref, or nil. The returned
// message is shared and must be treated as read-only.
func (s *Store) Get(ref string) *message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byRef[ref]
}

// Messages returns a copy of the current list. The contained messages
// are shared and must be treated as read-only.
func (s *Store) Messages() []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.list)
}

func (s *Store) snapshotLocked() []*message.Message {
	out := make([]*message.Message, len(s.list))
	copy(out, s.list)
	return out
}

// CompleteAfterCauseEliminated is the ingest shortcut for "the cause
// is gone": tasks (and other closable kinds) are closed with progress
// forced to 100 and any pending notification cleared; status messages
// are removed outright. FinishedAt is deliberately not touched.
func (s *Store) CompleteAfterCauseEliminated(ref, actor string) (*message.Message, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	existing := s.Get(ref)
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	if existing.Kind == message.KindStatus {
		s.remove(ref)
		return existing, nil
	}

	patch := &message.Patch{
		Lifecycle: message.Set(message.LifecyclePatch{
			State:          message.Set(message.StateClosed),
			StateChangedBy: message.Set(actor),
		}),
		Timing: message.Set(message.TimingPatch{
			NotifyAt: message.Remove[int64](),
		}),
		Progress: message.Set(message.ProgressPatch{
			Percentage: message.Set(100.0),
		}),
	}
	return s.applyUpdate(existing, patch, false)
}

// ExecuteAction runs a message action on behalf of an engagement
// plugin: the action's state transition is applied, the action is
// archived and an updated event goes out.
func (s *Store) ExecuteAction(ref, actionID, actor string, payload map[string]any) (*message.Message, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	existing := s.Get(ref)
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	action := existing.FindAction(actionID)
	if action == nil {
		return nil, fmt.Errorf("%w: %s on %s", ErrNoSuchAction, actionID, ref)
	}

	var target message.State
	switch action.Type {
	case message.ActionAck:
		target = message.StateAcked
	case message.ActionSnooze:
		target = message.StateSnoozed
	case message.ActionClose:
		target = message.StateClosed
	case message.ActionDelete:
		target = message.StateDeleted
	case message.ActionReopen:
		target = message.StateOpen
	case message.ActionCustom:
		// Custom actions carry no state transition; they are archived
		// for the executing plugin's own bookkeeping.
	}

	if target != "" {
		patch := &message.Patch{
			Lifecycle: message.Set(message.LifecyclePatch{
				State:          message.Set(target),
				StateChangedBy: message.Set(actor),
			}),
		}
		updated, err := s.applyUpdate(existing, patch, false)
		if err != nil {
			return nil, err
		}
		s.archive.AppendAction(ref, actionID, actor, payload)
		return updated, nil
	}

	s.archive.AppendAction(ref, actionID, actor, payload)
	s.emit(EventUpdated, existing)
	return existing, nil
}

// recordIfClosed forwards a fresh closed transition to the stats
// recorder; already-closed messages are not counted twice.
func (s *Store) recordIfClosed(before, after *message.Message) {
	if s.closed == nil {
		return
	}
	if after.Lifecycle.State == message.StateClosed && before.Lifecycle.State != message.StateClosed {
		s.closed.RecordClosed(after)
	}
}

// emit hands a single-message event to the dispatcher.
func (s *Store) emit(event Event, m *message.Message) {
	s.dispatchMu.Lock()
	d := s.dispatch
	s.dispatchMu.Unlock()
	metrics.DispatchTotal.WithLabelValues(string(event)).Inc()
	if d != nil {
		d(event, []*message.Message{m})
	}
}

// Flush drains pending persistence. Used on shutdown.
func (s *Store) Flush() error {
	docErr := s.docs.FlushPending().Err()
	archErr := s.archive.FlushAll().Err()
	if docErr != nil {
		return docErr
	}
	return archErr
}

// Stop cancels the due timer.
func (s *Store) Stop() {
	s.timerMu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerMu.Unlock()
}
