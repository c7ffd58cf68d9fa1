package store

import (
	"time"

	"github.com/msghub/msghub/internal/message"
)

// schedulerActor marks lifecycle changes made by the scheduler itself.
const schedulerActor = "scheduler"

// Reschedule recomputes the wake-up timer from the earliest pending
// notifyAt or expiresAt across all live messages. Safe to call after
// every mutation; it replaces the previous timer.
func (s *Store) Reschedule() {
	now := s.clock.Now().UnixMilli()

	var next int64
	s.mu.RLock()
	for _, m := range s.list {
		if m.Lifecycle.State.Terminal() {
			continue
		}
		for _, ts := range [2]int64{m.Timing.NotifyAt, m.Timing.ExpiresAt} {
			if ts > 0 && (next == 0 || ts < next) {
				next = ts
			}
		}
	}
	s.mu.RUnlock()

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if next == 0 {
		return
	}
	delay := time.Duration(next-now) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, s.tick)
}

// tick processes everything that has come due: expiries first, then
// due notifications, then re-arms the timer. Each message is handled
// inside its own operation critical section, re-read by ref so a
// mutation landing between the list snapshot and the commit is never
// overwritten by a stale clone.
func (s *Store) tick() {
	now := s.clock.Now()
	nowMS := now.UnixMilli()

	for _, snap := range s.Messages() {
		s.opMu.Lock()
		m := s.Get(snap.Ref)
		if m == nil || m.Lifecycle.State.Terminal() {
			s.opMu.Unlock()
			continue
		}
		if m.Timing.ExpiresAt > 0 && m.Timing.ExpiresAt <= nowMS {
			s.expire(m)
		} else if m.Timing.NotifyAt > 0 && m.Timing.NotifyAt <= nowMS {
			s.fireDue(m, now)
		}
		s.opMu.Unlock()
	}
	s.Reschedule()
}

// expire transitions a message whose expiresAt has passed. The change
// is a regular visible update attributed to the scheduler.
func (s *Store) expire(m *message.Message) {
	patch := &message.Patch{
		Lifecycle: message.Set(message.LifecyclePatch{
			State:          message.Set(message.StateExpired),
			StateChangedBy: message.Set(schedulerActor),
		}),
		Timing: message.Set(message.TimingPatch{
			NotifyAt: message.Remove[int64](),
		}),
	}
	updated, err := s.factory.Apply(m, patch, false)
	if err != nil {
		s.log.Error("expiry transition failed", "ref", m.Ref, "error", err)
		return
	}

	snapshot := s.swap(updated)
	s.docs.WriteJSON(snapshot)
	s.archive.AppendExpired(updated.Ref, updated)
	s.log.Info("message expired", "ref", updated.Ref)
	s.emit(EventExpired, updated)
	s.recordIfClosed(m, updated)
}

// fireDue handles one due notification: suppressed inside quiet hours
// it is silently pushed past the window end; otherwise the due event
// goes out, the notification is stamped and the repeat interval (if
// any) schedules the next one.
func (s *Store) fireDue(m *message.Message, now time.Time) {
	if s.quiet.SuppressDue(m, now) {
		at := s.quiet.RescheduleAt(now, s.rand).UnixMilli()
		s.retime(m, at, m.Timing.NotifiedAt)
		s.log.Debug("due notification suppressed by quiet hours", "ref", m.Ref, "rescheduledTo", at)
		return
	}

	notified := make(map[string]int64, len(m.Timing.NotifiedAt)+1)
	for k, v := range m.Timing.NotifiedAt {
		notified[k] = v
	}
	notified["due"] = now.UnixMilli()

	var next int64
	if m.Timing.RemindEvery > 0 {
		next = now.UnixMilli() + m.Timing.RemindEvery
	}
	updated := s.retime(m, next, notified)
	s.emit(EventDue, updated)
}

// retime is the scheduler's stealth update: only notifyAt/notifiedAt
// change, updatedAt stays put and no archive entry or updated event is
// produced. The new list is still persisted.
func (s *Store) retime(m *message.Message, notifyAt int64, notified map[string]int64) *message.Message {
	updated := m.Clone()
	updated.Timing.NotifyAt = notifyAt
	if notified != nil {
		cp := make(map[string]int64, len(notified))
		for k, v := range notified {
			cp[k] = v
		}
		updated.Timing.NotifiedAt = cp
	}
	snapshot := s.swap(updated)
	s.docs.WriteJSON(snapshot)
	return updated
}

// swap replaces the message with the same ref in list and index and
// returns the fresh snapshot. Callers hold opMu.
func (s *Store) swap(updated *message.Message) []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.list {
		if cur.Ref == updated.Ref {
			s.list[i] = updated
			break
		}
	}
	s.byRef[updated.Ref] = updated
	return s.snapshotLocked()
}
