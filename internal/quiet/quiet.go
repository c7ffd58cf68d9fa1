// Package quiet implements the quiet-hours notification policy: pure
// helpers deciding whether a due notification is suppressed and when
// it gets rescheduled. All window math is local wall-clock.
package quiet

import (
	"time"

	"github.com/msghub/msghub/internal/message"
)

// Hours configures the quiet-hours window. StartMin and EndMin are
// minutes since local midnight; a StartMin > EndMin window crosses
// midnight (e.g. 22:00 to 06:00).
type Hours struct {
	Enabled  bool          `json:"enabled"`
	StartMin int           `json:"startMin"`
	EndMin   int           `json:"endMin"`
	MaxLevel message.Level `json:"maxLevel"`
	// Spread is the jitter window added after the quiet-hours end so
	// rescheduled notifications don't all fire at once.
	Spread time.Duration `json:"spreadMs"`
}

// Contains reports whether now falls inside the half-open window
// [StartMin, EndMin) in local wall-clock minutes.
func (h Hours) Contains(now time.Time) bool {
	if !h.Enabled {
		return false
	}
	now = now.Local()
	m := now.Hour()*60 + now.Minute()
	if h.StartMin <= h.EndMin {
		return m >= h.StartMin && m < h.EndMin
	}
	// Cross-midnight window.
	return m >= h.StartMin || m < h.EndMin
}

// End returns the next end of the quiet-hours window. The second
// return is false when now is outside the window.
func (h Hours) End(now time.Time) (time.Time, bool) {
	if !h.Contains(now) {
		return time.Time{}, false
	}
	now = now.Local()
	m := now.Hour()*60 + now.Minute()
	y, mo, d := now.Date()
	end := time.Date(y, mo, d, h.EndMin/60, h.EndMin%60, 0, 0, now.Location())
	if h.StartMin > h.EndMin && m >= h.StartMin {
		// Evening part of a cross-midnight window ends tomorrow morning.
		end = end.AddDate(0, 0, 1)
	}
	return end, true
}

// RescheduleAt returns the timestamp a suppressed notification moves
// to: the window end plus uniform jitter from [0, Spread). rnd must
// return a value in [0, 1).
func (h Hours) RescheduleAt(now time.Time, rnd func() float64) time.Time {
	end, ok := h.End(now)
	if !ok {
		return now
	}
	return end.Add(time.Duration(rnd() * float64(h.Spread)))
}

// SuppressDue reports whether a due notification for m is suppressed:
// quiet hours must be active, the message level must not exceed
// MaxLevel, and the message must already have been notified once. The
// first due notification always goes out.
func (h Hours) SuppressDue(m *message.Message, now time.Time) bool {
	if !h.Contains(now) {
		return false
	}
	if m.Level > h.MaxLevel {
		return false
	}
	return m.Timing.NotifiedAt["due"] > 0
}
