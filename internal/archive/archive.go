package archive

import (
	"bytes"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/metrics"
	"github.com/msghub/msghub/internal/msgcodec"
	"github.com/msghub/msghub/internal/opqueue"
	"github.com/msghub/msghub/internal/storage"
	"github.com/msghub/msghub/internal/util/timefmt"
)

// SchemaVersion is stamped into every archive entry.
const SchemaVersion = 1

// Event names the lifecycle moment an archive entry records.
type Event string

const (
	EventCreate   Event = "create"
	EventPatch    Event = "patch"
	EventAction   Event = "action"
	EventDelete   Event = "delete"
	EventSnapshot Event = "snapshot"
	EventExpired  Event = "expired"
)

// Entry is one immutable archive record. Payload fields are event
// dependent: snapshot events carry the full message, patch events the
// requested patch plus the computed diff, action events the action
// details.
type Entry struct {
	SchemaV int    `json:"schema_v"`
	TS      int64  `json:"ts"`
	Ref     string `json:"ref"`
	Event   Event  `json:"event"`

	Snapshot  *message.Message `json:"snapshot,omitempty"`
	Requested *message.Patch   `json:"requested,omitempty"`
	Added     any              `json:"added,omitempty"`
	Removed   any              `json:"removed,omitempty"`
	ActionID  string           `json:"actionId,omitempty"`
	Actor     string           `json:"actor,omitempty"`
	Payload   map[string]any   `json:"payload,omitempty"`
}

// Strategy names the effective storage backend mode.
type Strategy string

const (
	StrategyNative Strategy = "native"
	StrategyHost   Strategy = "host"
)

// Status is a point-in-time snapshot of the archive's internals.
type Status struct {
	PendingRefs   int       `json:"pendingRefs"`
	PendingEvents int       `json:"pendingEvents"`
	LastFlushAt   time.Time `json:"lastFlushAt"`
	Strategy      Strategy  `json:"strategy"`
	ProbeError    string    `json:"probeError,omitempty"`
	SizeBytes     int64     `json:"sizeBytes,omitempty"`
}

// Options configures an Archive.
type Options struct {
	Backend  storage.Backend
	Strategy Strategy
	// ProbeError records why the native probe failed, for status only.
	ProbeError error
	Codec      msgcodec.Codec
	Clock      clock.Clock
	// Queue serializes all file I/O with the other persistence layers.
	Queue  *opqueue.Queue
	Logger *slog.Logger
	// FlushInterval batches appends per ref. Zero flushes every append
	// synchronously into the queue.
	FlushInterval time.Duration
	// MaxBatchSize forces a flush once a ref has this many buffered
	// events.
	MaxBatchSize int
	// KeepPreviousWeeks is how many weekly segments before the current
	// week retention keeps per ref.
	KeepPreviousWeeks int
	// MaxPathSegmentLength bounds escaped path segments.
	MaxPathSegmentLength int
	// ThrowOnError makes append futures reject on flush failure
	// instead of the default log-and-resolve.
	ThrowOnError bool
}

// pendingRef buffers events for one ref between flushes. A flush
// removes the slot from the pending map outright; in-flight batches
// live only on the write queue.
type pendingRef struct {
	events  []Entry
	fut     *opqueue.Future
	resolve func(error)
	timer   *time.Timer
}

// Archive is the per-ref append-only event log.
type Archive struct {
	backend   storage.Backend
	strategy  Strategy
	probeErr  error
	codec     msgcodec.Codec
	clock     clock.Clock
	queue     *opqueue.Queue
	log       *slog.Logger
	interval  time.Duration
	batchMax  int
	keepWeeks int
	maxSegLen int
	throw     bool

	mu          sync.Mutex
	pending     map[string]*pendingRef
	lastFlushAt time.Time
}

// New creates an Archive. Call Init before first use.
func New(opts Options) *Archive {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	batchMax := opts.MaxBatchSize
	if batchMax <= 0 {
		batchMax = 50
	}
	maxSegLen := opts.MaxPathSegmentLength
	if maxSegLen <= 0 {
		maxSegLen = DefaultMaxPathSegmentLength
	}
	return &Archive{
		backend:   opts.Backend,
		strategy:  opts.Strategy,
		probeErr:  opts.ProbeError,
		codec:     opts.Codec,
		clock:     clk,
		queue:     opts.Queue,
		log:       log.With("component", "archive"),
		interval:  opts.FlushInterval,
		batchMax:  batchMax,
		keepWeeks: opts.KeepPreviousWeeks,
		maxSegLen: maxSegLen,
		throw:     opts.ThrowOnError,
		pending:   make(map[string]*pendingRef),
	}
}

// Init logs the effective strategy. The strategy is fixed for the
// process lifetime.
func (a *Archive) Init() error {
	if a.probeErr != nil {
		a.log.Warn("native storage probe failed, using host-file storage", "error", a.probeErr)
	}
	a.log.Info("archive ready", "strategy", a.strategy)
	return nil
}

// AppendCreate records a newly created message with its full snapshot.
func (a *Archive) AppendCreate(ref string, m *message.Message) *opqueue.Future {
	return a.enqueue(ref, Entry{Event: EventCreate, Snapshot: m})
}

// AppendSnapshot records a full snapshot outside the create path, e.g.
// for resyncs.
func (a *Archive) AppendSnapshot(ref string, m *message.Message) *opqueue.Future {
	return a.enqueue(ref, Entry{Event: EventSnapshot, Snapshot: m})
}

// AppendPatch records a patch event. When both existing and updated
// are given the structural diff is stored alongside the requested
// patch.
func (a *Archive) AppendPatch(ref string, requested *message.Patch, existing, updated *message.Message) *opqueue.Future {
	e := Entry{Event: EventPatch, Requested: requested}
	if existing != nil && updated != nil {
		added, removed, err := Diff(existing, updated)
		if err != nil {
			a.log.Warn("diff computation failed", "ref", ref, "error", err)
		} else {
			e.Added = added
			e.Removed = removed
		}
	}
	return a.enqueue(ref, e)
}

// AppendAction records an executed action.
func (a *Archive) AppendAction(ref, actionID, actor string, payload map[string]any) *opqueue.Future {
	return a.enqueue(ref, Entry{Event: EventAction, ActionID: actionID, Actor: actor, Payload: payload})
}

// AppendDelete records a message removal with its final snapshot.
func (a *Archive) AppendDelete(ref string, final *message.Message) *opqueue.Future {
	return a.enqueue(ref, Entry{Event: EventDelete, Snapshot: final})
}

// AppendExpired records an expiry transition.
func (a *Archive) AppendExpired(ref string, m *message.Message) *opqueue.Future {
	return a.enqueue(ref, Entry{Event: EventExpired, Snapshot: m})
}

// enqueue stamps and buffers an entry, arming the flush trigger.
func (a *Archive) enqueue(ref string, e Entry) *opqueue.Future {
	e.SchemaV = SchemaVersion
	e.TS = a.clock.Now().UnixMilli()
	e.Ref = ref

	a.mu.Lock()
	p := a.pending[ref]
	if p == nil {
		p = &pendingRef{}
		p.fut, p.resolve = opqueue.Promise()
		a.pending[ref] = p
	}
	p.events = append(p.events, e)
	metrics.ArchivePendingEvents.Inc()
	fut := p.fut

	switch {
	case a.interval == 0:
		a.flushRefLocked(ref, p)
	case len(p.events) >= a.batchMax:
		a.flushRefLocked(ref, p)
	case p.timer == nil:
		p.timer = time.AfterFunc(a.interval, func() {
			a.mu.Lock()
			if cur := a.pending[ref]; cur != nil {
				a.flushRefLocked(ref, cur)
			}
			a.mu.Unlock()
		})
	}
	a.mu.Unlock()
	return fut
}

// FlushRef forces an immediate flush of one ref's buffered events.
func (a *Archive) FlushRef(ref string) *opqueue.Future {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.pending[ref]
	if p == nil {
		return a.queue.Current()
	}
	fut := p.fut
	a.flushRefLocked(ref, p)
	return fut
}

// FlushAll flushes every ref and returns the queue tail, so waiting on
// it quiesces the archive. Used on shutdown.
func (a *Archive) FlushAll() *opqueue.Future {
	a.mu.Lock()
	for ref, p := range a.pending {
		a.flushRefLocked(ref, p)
	}
	tail := a.queue.Current()
	a.mu.Unlock()
	return tail
}

// flushRefLocked hands one ref's buffer to the write queue. Caller
// holds a.mu. The pending slot is removed so appends arriving during
// the flush open a fresh batch; per-ref ordering holds because the
// global queue is serial.
func (a *Archive) flushRefLocked(ref string, p *pendingRef) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	events := p.events
	resolve := p.resolve
	delete(a.pending, ref)

	a.queue.Submit(func() error {
		err := a.writeBatch(ref, events)
		metrics.ArchivePendingEvents.Sub(float64(len(events)))
		metrics.ArchiveFlushesTotal.Inc()
		a.mu.Lock()
		a.lastFlushAt = time.Now()
		a.mu.Unlock()
		if err != nil {
			a.log.Error("archive flush failed", "ref", ref, "events", len(events), "error", err)
			if a.throw {
				resolve(err)
				return err
			}
			// Best-effort durability: callers see success, status and
			// logs carry the failure.
			resolve(nil)
			return nil
		}
		resolve(nil)
		return nil
	})
}

// writeBatch persists one ref's events, grouped into their week
// segments, then applies retention. Runs on the queue goroutine.
func (a *Archive) writeBatch(ref string, events []Entry) error {
	// Group by segment key; each event belongs to its own timestamp's
	// week.
	segments := make(map[string][]Entry)
	var order []string
	for _, e := range events {
		key := timefmt.WeekKey(time.UnixMilli(e.TS))
		if _, seen := segments[key]; !seen {
			order = append(order, key)
		}
		segments[key] = append(segments[key], e)
	}

	for _, key := range order {
		if err := a.writeSegment(ref, key, segments[key]); err != nil {
			return err
		}
	}

	if err := a.applyRetention(ref); err != nil {
		// Retention failures never break appends.
		a.log.Warn("archive retention failed", "ref", ref, "error", err)
	}
	return nil
}

// writeSegment appends entries to one weekly JSONL file.
func (a *Archive) writeSegment(ref, weekKey string, entries []Entry) error {
	p := SegmentPath(ref, weekKey, a.maxSegLen)
	dir := path.Dir(p)
	if dir != "." {
		if err := a.backend.MkdirAll(dir); err != nil {
			return fmt.Errorf("archive mkdir %s: %w", dir, err)
		}
	}

	var lines bytes.Buffer
	for _, e := range entries {
		data, err := a.codec.Encode(e)
		if err != nil {
			return fmt.Errorf("archive encode %s: %w", ref, err)
		}
		lines.Write(data)
		lines.WriteByte('\n')
	}

	if a.backend.CanAppend() {
		if err := a.backend.AppendFile(p, lines.Bytes()); err != nil {
			return fmt.Errorf("archive append %s: %w", p, err)
		}
		return nil
	}

	existing, err := a.backend.ReadFile(p)
	if err != nil && !storage.IsNotExist(err) {
		return fmt.Errorf("archive read %s: %w", p, err)
	}
	// Trim trailing whitespace so legacy files with extra blank lines
	// stay one-object-per-line.
	content := bytes.TrimRight(existing, " \t\r\n")
	if len(content) > 0 {
		content = append(content, '\n')
	}
	content = append(content, lines.Bytes()...)
	if err := a.backend.WriteFile(p, content); err != nil {
		return fmt.Errorf("archive write %s: %w", p, err)
	}
	return nil
}

// applyRetention deletes weekly segments older than the current week
// minus KeepPreviousWeeks for the given ref.
func (a *Archive) applyRetention(ref string) error {
	dir, base := refDir(ref, a.maxSegLen)
	listDir := dir
	if listDir == "" {
		listDir = "."
	}
	entries, err := a.backend.ReadDir(listDir)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := timefmt.WeekStart(a.clock.Now()).AddDate(0, 0, -7*a.keepWeeks)
	for _, ent := range entries {
		if ent.IsDir {
			continue
		}
		weekKey, ok := parseSegmentName(ent.Name, base)
		if !ok {
			continue
		}
		start, err := timefmt.ParseWeekKey(weekKey)
		if err != nil {
			continue
		}
		if start.Before(cutoff) {
			p := path.Join(dir, ent.Name)
			if err := a.backend.Delete(p); err != nil {
				a.log.Warn("retention delete failed", "path", p, "error", err)
			} else {
				a.log.Debug("retention deleted old segment", "path", p)
			}
		}
	}
	return nil
}

// GetStatus returns live counters. With includeSize, the archive tree
// is walked for a size estimate.
func (a *Archive) GetStatus(includeSize bool) Status {
	a.mu.Lock()
	st := Status{
		PendingRefs: len(a.pending),
		LastFlushAt: a.lastFlushAt,
		Strategy:    a.strategy,
	}
	for _, p := range a.pending {
		st.PendingEvents += len(p.events)
	}
	if a.probeErr != nil {
		st.ProbeError = a.probeErr.Error()
	}
	a.mu.Unlock()

	if includeSize {
		st.SizeBytes = a.treeSize(".")
	}
	return st
}

// treeSize sums file sizes under dir, best-effort.
func (a *Archive) treeSize(dir string) int64 {
	entries, err := a.backend.ReadDir(dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		p := path.Join(dir, e.Name)
		if e.IsDir {
			total += a.treeSize(p)
			continue
		}
		total += e.Size
	}
	return total
}
