// Package stats maintains reporting counters: a live snapshot derived
// from the message list and a persistent daily rollup of closed
// messages.
package stats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/msghub/msghub/internal/archive"
	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/docstore"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/util/timefmt"
)

// SchemaVersion is stamped into the rollup document and the snapshot
// meta block.
const SchemaVersion = 1

// DefaultKeepDays is how long closed-message day buckets are retained.
const DefaultKeepDays = 400

// DayBucket counts the messages closed on one local calendar day.
type DayBucket struct {
	Total  int                  `json:"total"`
	ByKind map[message.Kind]int `json:"byKind"`
}

// Rollup is the persisted closed-message history.
type Rollup struct {
	SchemaVersion int                  `json:"schemaVersion"`
	LastClosedAt  int64                `json:"lastClosedAt,omitempty"`
	Days          map[string]DayBucket `json:"days"`
}

// Options configures a Stats instance.
type Options struct {
	// Docs persists the rollup document (stats-rollup.json), with its
	// own coalescing window.
	Docs     *docstore.Store
	Clock    clock.Clock
	KeepDays int
	Locale   string
	Logger   *slog.Logger
}

// Stats records closed messages and builds snapshots.
type Stats struct {
	docs     *docstore.Store
	clock    clock.Clock
	keepDays int
	locale   string
	log      *slog.Logger

	mu     sync.Mutex
	rollup Rollup
}

// New creates a Stats instance. Call Load to read the persisted rollup.
func New(opts Options) *Stats {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	keep := opts.KeepDays
	if keep <= 0 {
		keep = DefaultKeepDays
	}
	locale := opts.Locale
	if locale == "" {
		locale = "en"
	}
	return &Stats{
		docs:     opts.Docs,
		clock:    clk,
		keepDays: keep,
		locale:   locale,
		log:      log.With("component", "stats"),
		rollup:   Rollup{SchemaVersion: SchemaVersion, Days: map[string]DayBucket{}},
	}
}

// Load reads the persisted rollup. Missing or invalid documents start
// an empty rollup.
func (s *Stats) Load() {
	var r Rollup
	if !s.docs.ReadJSON(&r) {
		s.log.Info("no persisted rollup, starting empty")
		return
	}
	if r.Days == nil {
		r.Days = map[string]DayBucket{}
	}
	r.SchemaVersion = SchemaVersion
	s.mu.Lock()
	s.rollup = r
	s.mu.Unlock()
	s.log.Info("rollup loaded", "days", len(r.Days))
}

// RecordClosed adds a closed message to its day bucket and persists the
// rollup. Non-closed messages are ignored.
func (s *Stats) RecordClosed(m *message.Message) {
	if m == nil || m.Lifecycle.State != message.StateClosed {
		return
	}
	closedAt := m.Lifecycle.StateChangedAt
	if closedAt == 0 {
		closedAt = s.clock.Now().UnixMilli()
	}
	key := timefmt.DayKey(time.UnixMilli(closedAt))

	s.mu.Lock()
	bucket := s.rollup.Days[key]
	bucket.Total++
	if bucket.ByKind == nil {
		bucket.ByKind = map[message.Kind]int{}
	}
	bucket.ByKind[m.Kind]++
	s.rollup.Days[key] = bucket
	if closedAt > s.rollup.LastClosedAt {
		s.rollup.LastClosedAt = closedAt
	}
	s.pruneLocked()
	snapshot := s.cloneRollupLocked()
	s.mu.Unlock()

	s.docs.WriteJSON(snapshot)
}

// pruneLocked drops day buckets older than keepDays. Caller holds s.mu.
func (s *Stats) pruneLocked() {
	cutoff := timefmt.DayKey(s.clock.Now().AddDate(0, 0, -s.keepDays))
	for key := range s.rollup.Days {
		if key < cutoff {
			delete(s.rollup.Days, key)
		}
	}
}

func (s *Stats) cloneRollupLocked() Rollup {
	out := Rollup{
		SchemaVersion: s.rollup.SchemaVersion,
		LastClosedAt:  s.rollup.LastClosedAt,
		Days:          make(map[string]DayBucket, len(s.rollup.Days)),
	}
	for key, b := range s.rollup.Days {
		byKind := make(map[message.Kind]int, len(b.ByKind))
		for k, v := range b.ByKind {
			byKind[k] = v
		}
		out.Days[key] = DayBucket{Total: b.Total, ByKind: byKind}
	}
	return out
}

// Rollup returns a copy of the current rollup document.
func (s *Stats) Rollup() Rollup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneRollupLocked()
}

// Flush forces the pending rollup write. Used on shutdown.
func (s *Stats) Flush() error {
	return s.docs.FlushPending().Err()
}

// Current groups the live list by its classification axes.
type Current struct {
	Total    int                   `json:"total"`
	ByKind   map[message.Kind]int  `json:"byKind"`
	ByState  map[message.State]int `json:"byState"`
	ByLevel  map[message.Level]int `json:"byLevel"`
	BySystem map[string]int        `json:"byOriginSystem"`
}

// Windows counts messages per schedule window.
type Windows struct {
	Overdue            int `json:"overdue"`
	Today              int `json:"today"`
	Tomorrow           int `json:"tomorrow"`
	Next7Days          int `json:"next7Days"`
	ThisWeek           int `json:"thisWeek"`
	ThisWeekFromToday  int `json:"thisWeekFromToday"`
	ThisMonth          int `json:"thisMonth"`
	ThisMonthFromToday int `json:"thisMonthFromToday"`
}

// Schedule buckets the live list by domain due time.
type Schedule struct {
	Windows
	ByKind map[message.Kind]Windows `json:"byKind"`
}

// Done sums closed-message rollup buckets over common windows.
type Done struct {
	Today        int   `json:"today"`
	ThisWeek     int   `json:"thisWeek"`
	ThisMonth    int   `json:"thisMonth"`
	LastClosedAt int64 `json:"lastClosedAt,omitempty"`
}

// IO carries the persistence layer status snapshots.
type IO struct {
	Storage docstore.Status `json:"storage"`
	Rollup  docstore.Status `json:"rollup"`
	Archive archive.Status  `json:"archive"`
}

// Meta describes the snapshot itself.
type Meta struct {
	SchemaVersion int      `json:"schemaVersion"`
	GeneratedAt   int64    `json:"generatedAt"`
	TZ            string   `json:"tz"`
	Locale        string   `json:"locale"`
	Windows       []string `json:"windows"`
}

// Snapshot is the full stats answer.
type Snapshot struct {
	Current  Current  `json:"current"`
	Schedule Schedule `json:"schedule"`
	Done     Done     `json:"done"`
	IO       IO       `json:"io"`
	Meta     Meta     `json:"meta"`
}

// CollectOptions tunes one Collect call.
type CollectOptions struct {
	// IncludeArchiveSize walks the archive tree for a size estimate.
	IncludeArchiveSize bool
}

// windowNames documents the schedule windows in the meta block.
var windowNames = []string{
	"overdue", "today", "tomorrow", "next7Days",
	"thisWeek", "thisWeekFromToday", "thisMonth", "thisMonthFromToday",
}

// Collect builds a snapshot from the given list and the persistence
// layer statuses.
func (s *Stats) Collect(msgs []*message.Message, storageStatus docstore.Status, arch *archive.Archive, opts CollectOptions) Snapshot {
	now := s.clock.Now()
	zone, _ := now.Zone()

	snap := Snapshot{
		Current: Current{
			ByKind:   map[message.Kind]int{},
			ByState:  map[message.State]int{},
			ByLevel:  map[message.Level]int{},
			BySystem: map[string]int{},
		},
		Schedule: Schedule{ByKind: map[message.Kind]Windows{}},
		Meta: Meta{
			SchemaVersion: SchemaVersion,
			GeneratedAt:   now.UnixMilli(),
			TZ:            zone,
			Locale:        s.locale,
			Windows:       windowNames,
		},
	}

	for _, m := range msgs {
		snap.Current.Total++
		snap.Current.ByKind[m.Kind]++
		snap.Current.ByState[m.Lifecycle.State]++
		snap.Current.ByLevel[m.Level]++
		if m.Origin.System != "" {
			snap.Current.BySystem[m.Origin.System]++
		}

		if m.Lifecycle.State.QuasiDeleted() {
			continue
		}
		due := domainDue(m)
		if due == 0 {
			continue
		}
		w := windowsAt(time.UnixMilli(due), now)
		addWindows(&snap.Schedule.Windows, w)
		byKind := snap.Schedule.ByKind[m.Kind]
		addWindows(&byKind, w)
		snap.Schedule.ByKind[m.Kind] = byKind
	}

	snap.Done = s.collectDone(now)

	snap.IO = IO{
		Storage: storageStatus,
		Rollup:  s.docs.Status(),
		Archive: arch.GetStatus(opts.IncludeArchiveSize),
	}
	return snap
}

// collectDone sums rollup day buckets over today/thisWeek/thisMonth.
func (s *Stats) collectDone(now time.Time) Done {
	dayStart := startOfDay(now)
	weekStart := timefmt.WeekStart(now)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	s.mu.Lock()
	defer s.mu.Unlock()
	done := Done{LastClosedAt: s.rollup.LastClosedAt}
	for key, bucket := range s.rollup.Days {
		day, err := time.ParseInLocation("2006-01-02", key, now.Location())
		if err != nil {
			continue
		}
		if !day.Before(dayStart) {
			done.Today += bucket.Total
		}
		if !day.Before(weekStart) {
			done.ThisWeek += bucket.Total
		}
		if !day.Before(monthStart) {
			done.ThisMonth += bucket.Total
		}
	}
	return done
}

// domainDue resolves the schedule-relevant timestamp: appointments
// prefer startAt over dueAt, everything else the other way round.
func domainDue(m *message.Message) int64 {
	if m.Kind == message.KindAppointment {
		if m.Timing.StartAt != 0 {
			return m.Timing.StartAt
		}
		return m.Timing.DueAt
	}
	if m.Timing.DueAt != 0 {
		return m.Timing.DueAt
	}
	return m.Timing.StartAt
}

func startOfDay(t time.Time) time.Time {
	t = t.Local()
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// windowsAt computes which schedule windows the due time falls into,
// all in local wall-clock.
func windowsAt(due, now time.Time) Windows {
	var w Windows
	due = due.Local()
	now = now.Local()

	dayStart := startOfDay(now)
	tomorrowStart := dayStart.AddDate(0, 0, 1)
	dayAfterStart := dayStart.AddDate(0, 0, 2)
	next7End := dayStart.AddDate(0, 0, 7)
	weekStart := timefmt.WeekStart(now)
	weekEnd := weekStart.AddDate(0, 0, 7)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	monthEnd := monthStart.AddDate(0, 1, 0)

	if due.Before(now) {
		w.Overdue = 1
	}
	if inRange(due, dayStart, tomorrowStart) {
		w.Today = 1
	}
	if inRange(due, tomorrowStart, dayAfterStart) {
		w.Tomorrow = 1
	}
	if inRange(due, dayStart, next7End) {
		w.Next7Days = 1
	}
	if inRange(due, weekStart, weekEnd) {
		w.ThisWeek = 1
	}
	if inRange(due, dayStart, weekEnd) {
		w.ThisWeekFromToday = 1
	}
	if inRange(due, monthStart, monthEnd) {
		w.ThisMonth = 1
	}
	if inRange(due, dayStart, monthEnd) {
		w.ThisMonthFromToday = 1
	}
	return w
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func addWindows(dst *Windows, src Windows) {
	dst.Overdue += src.Overdue
	dst.Today += src.Today
	dst.Tomorrow += src.Tomorrow
	dst.Next7Days += src.Next7Days
	dst.ThisWeek += src.ThisWeek
	dst.ThisWeekFromToday += src.ThisWeekFromToday
	dst.ThisMonth += src.ThisMonth
	dst.ThisMonthFromToday += src.ThisMonthFromToday
}
