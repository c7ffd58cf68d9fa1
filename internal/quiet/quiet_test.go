package quiet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/quiet"
)

// crossMidnight is the canonical 22:00 to 06:00 window.
var crossMidnight = quiet.Hours{
	Enabled:  true,
	StartMin: 22 * 60,
	EndMin:   6 * 60,
	MaxLevel: message.LevelNotice,
	Spread:   time.Minute,
}

func localTime(hour, min int) time.Time {
	return time.Date(2020, 1, 1, hour, min, 0, 0, time.Local)
}

func TestContains_CrossMidnight(t *testing.T) {
	tests := []struct {
		hour, min int
		want      bool
	}{
		{21, 59, false},
		{22, 0, true},
		{23, 0, true},
		{0, 0, true},
		{5, 59, true},
		{6, 0, false},
		{12, 0, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, crossMidnight.Contains(localTime(tt.hour, tt.min)),
			"%02d:%02d", tt.hour, tt.min)
	}
}

func TestContains_SameDayWindow(t *testing.T) {
	h := quiet.Hours{Enabled: true, StartMin: 12 * 60, EndMin: 14 * 60}
	assert.False(t, h.Contains(localTime(11, 59)))
	assert.True(t, h.Contains(localTime(12, 0)))
	assert.True(t, h.Contains(localTime(13, 59)))
	assert.False(t, h.Contains(localTime(14, 0)))
}

func TestContains_Disabled(t *testing.T) {
	h := crossMidnight
	h.Enabled = false
	assert.False(t, h.Contains(localTime(23, 0)))
}

func TestEnd(t *testing.T) {
	// Evening side: ends tomorrow morning.
	end, ok := crossMidnight.End(localTime(23, 0))
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 2, 6, 0, 0, 0, time.Local), end)

	// Morning side: ends today.
	end, ok = crossMidnight.End(localTime(5, 0))
	require.True(t, ok)
	assert.Equal(t, time.Date(2020, 1, 1, 6, 0, 0, 0, time.Local), end)

	// Outside.
	_, ok = crossMidnight.End(localTime(12, 0))
	assert.False(t, ok)
}

func TestRescheduleAt_Jitter(t *testing.T) {
	h := crossMidnight
	h.Spread = 60000 * time.Millisecond

	got := h.RescheduleAt(localTime(23, 0), func() float64 { return 0.5 })
	want := time.Date(2020, 1, 2, 6, 0, 30, 0, time.Local)
	assert.Equal(t, want, got)
}

func TestSuppressDue(t *testing.T) {
	now := localTime(23, 0)
	msg := func(level message.Level, notified int64) *message.Message {
		return &message.Message{
			Level:  level,
			Timing: message.Timing{NotifiedAt: map[string]int64{"due": notified}},
		}
	}

	// Repeat inside window at or below max level: suppressed.
	assert.True(t, crossMidnight.SuppressDue(msg(message.LevelInfo, now.UnixMilli()-1), now))
	assert.True(t, crossMidnight.SuppressDue(msg(message.LevelNotice, now.UnixMilli()-1), now))

	// First notification is never suppressed.
	assert.False(t, crossMidnight.SuppressDue(msg(message.LevelInfo, 0), now))

	// Above max level passes through.
	assert.False(t, crossMidnight.SuppressDue(msg(message.LevelCritical, now.UnixMilli()-1), now))

	// Outside the window nothing is suppressed.
	assert.False(t, crossMidnight.SuppressDue(msg(message.LevelInfo, now.UnixMilli()-1), localTime(12, 0)))
}
