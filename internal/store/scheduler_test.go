package store

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/quiet"
)

func TestScheduler_FiresDueAndClearsNotifyAt(t *testing.T) {
	h := newHarness(t, quiet.Hours{})

	in := taskIn("due.1", "water plants")
	in.Timing.NotifyAt = testNow.Add(time.Hour).UnixMilli()
	added, err := h.store.Add(in)
	require.NoError(t, err)

	h.clock.Advance(time.Hour + time.Second)
	h.store.tick()

	got := h.store.Get("due.1")
	assert.Zero(t, got.Timing.NotifyAt, "one-shot notification cleared")
	assert.Equal(t, h.clock.Now().UnixMilli(), got.Timing.NotifiedAt["due"])
	assert.Equal(t, added.Timing.UpdatedAt, got.Timing.UpdatedAt, "due stamping is stealth")

	events := h.dispatchedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventDue, events[1].event)
	assert.Equal(t, []string{"due.1"}, events[1].refs)
}

func TestScheduler_RemindEveryRepeats(t *testing.T) {
	h := newHarness(t, quiet.Hours{})

	in := taskIn("due.rep", "take medicine")
	in.Timing.NotifyAt = testNow.Add(time.Minute).UnixMilli()
	in.Timing.RemindEvery = (30 * time.Minute).Milliseconds()
	_, err := h.store.Add(in)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	h.store.tick()

	got := h.store.Get("due.rep")
	want := h.clock.Now().Add(30 * time.Minute).UnixMilli()
	assert.Equal(t, want, got.Timing.NotifyAt, "next reminder scheduled")

	h.clock.Advance(31 * time.Minute)
	h.store.tick()

	due := 0
	for _, e := range h.dispatchedEvents() {
		if e.event == EventDue {
			due++
		}
	}
	assert.Equal(t, 2, due)
}

func TestScheduler_QuietHoursStealthReschedule(t *testing.T) {
	// 22:00 to 06:00 local, repeat notifications up to warning level are
	// pushed past the window end plus deterministic half-spread jitter.
	q := quiet.Hours{
		Enabled:  true,
		StartMin: 22 * 60,
		EndMin:   6 * 60,
		MaxLevel: message.LevelWarning,
		Spread:   time.Minute,
	}
	h := newHarness(t, q)

	lateEvening := time.Date(2020, 1, 1, 23, 0, 0, 0, time.Local)
	h.clock.Set(lateEvening.Add(-time.Hour))

	in := taskIn("quiet.1", "descale kettle")
	in.Timing.NotifyAt = lateEvening.UnixMilli()
	in.Timing.NotifiedAt = map[string]int64{"due": lateEvening.Add(-24 * time.Hour).UnixMilli()}
	added, err := h.store.Add(in)
	require.NoError(t, err)

	h.clock.Set(lateEvening)
	h.store.tick()

	got := h.store.Get("quiet.1")
	want := time.Date(2020, 1, 2, 6, 0, 30, 0, time.Local).UnixMilli()
	assert.Equal(t, want, got.Timing.NotifyAt, "rescheduled to window end plus jitter")
	assert.Equal(t, added.Timing.UpdatedAt, got.Timing.UpdatedAt, "reschedule is stealth")

	for _, e := range h.dispatchedEvents() {
		assert.NotEqual(t, EventDue, e.event, "suppressed notification must not dispatch")
	}
}

func TestScheduler_FirstDueIgnoresQuietHours(t *testing.T) {
	q := quiet.Hours{
		Enabled:  true,
		StartMin: 22 * 60,
		EndMin:   6 * 60,
		MaxLevel: message.LevelWarning,
		Spread:   time.Minute,
	}
	h := newHarness(t, q)

	lateEvening := time.Date(2020, 1, 1, 23, 0, 0, 0, time.Local)
	h.clock.Set(lateEvening.Add(-time.Hour))

	in := taskIn("quiet.first", "smoke detector battery")
	in.Timing.NotifyAt = lateEvening.UnixMilli()
	_, err := h.store.Add(in)
	require.NoError(t, err)

	h.clock.Set(lateEvening)
	h.store.tick()

	events := h.dispatchedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventDue, events[1].event)
}

func TestScheduler_TickKeepsConcurrentEdits(t *testing.T) {
	h := newHarness(t, quiet.Hours{})

	in := taskIn("race.1", "0")
	in.Timing.NotifyAt = testNow.Add(time.Minute).UnixMilli()
	in.Timing.RemindEvery = time.Minute.Milliseconds()
	_, err := h.store.Add(in)
	require.NoError(t, err)

	const rounds = 100
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= rounds; i++ {
			patch := &message.Patch{Title: message.Set(strconv.Itoa(i))}
			if _, err := h.store.Update("race.1", patch); err != nil {
				t.Errorf("update %d: %v", i, err)
				return
			}
		}
	}()

	// Each tick fires the due reminder and stealth-retimes the message
	// while the updater keeps patching it.
	for i := 0; i < 50; i++ {
		h.clock.Advance(2 * time.Minute)
		h.store.tick()
	}
	wg.Wait()

	// A retime clone built from stale data would revert the title; the
	// last patch must survive every scheduler commit.
	h.clock.Advance(2 * time.Minute)
	h.store.tick()
	got := h.store.Get("race.1")
	require.NotNil(t, got)
	assert.Equal(t, strconv.Itoa(rounds), got.Title)
	assert.NotZero(t, got.Timing.NotifiedAt["due"], "reminder fired")
}

func TestScheduler_ExpiresMessages(t *testing.T) {
	h := newHarness(t, quiet.Hours{})

	in := taskIn("exp.1", "offer expires")
	in.Timing.ExpiresAt = testNow.Add(time.Hour).UnixMilli()
	in.Timing.NotifyAt = testNow.Add(2 * time.Hour).UnixMilli()
	_, err := h.store.Add(in)
	require.NoError(t, err)

	h.clock.Advance(time.Hour + time.Second)
	h.store.tick()

	got := h.store.Get("exp.1")
	assert.Equal(t, message.StateExpired, got.Lifecycle.State)
	assert.Equal(t, schedulerActor, got.Lifecycle.StateChangedBy)
	assert.Zero(t, got.Timing.NotifyAt, "expired messages stop notifying")

	events := h.dispatchedEvents()
	require.Len(t, events, 2)
	assert.Equal(t, EventExpired, events[1].event)

	// A later tick leaves the terminal message alone.
	h.clock.Advance(time.Hour)
	h.store.tick()
	assert.Len(t, h.dispatchedEvents(), 2)
}
