package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestNextExecuteAfterMinute(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 20, 0, time.Local)

	t.Run("without anchor schedules N minutes from now", func(t *testing.T) {
		cfg := &TimerConfig{Unit: IntervalMinute, Value: 5}

		next, err := cfg.NextExecuteAfter(now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(5*time.Minute), next)
	})

	t.Run("future second anchor stays within the current minute", func(t *testing.T) {
		cfg := &TimerConfig{Unit: IntervalMinute, Value: 1, Second: intPtr(45)}

		next, err := cfg.NextExecuteAfter(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 14, 10, 30, 45, 0, time.Local), next)
	})

	t.Run("elapsed second anchor advances a minute", func(t *testing.T) {
		cfg := &TimerConfig{Unit: IntervalMinute, Value: 1, Second: intPtr(10)}

		next, err := cfg.NextExecuteAfter(now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 14, 10, 31, 10, 0, time.Local), next)
	})
}

func TestNextExecuteAfterHour(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 20, 0, time.Local)

	cfg := &TimerConfig{Unit: IntervalHour, Value: 1, Minute: intPtr(15), Second: intPtr(0)}

	next, err := cfg.NextExecuteAfter(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 11, 15, 0, 0, time.Local), next)
}

func TestNextExecuteAfterDayWeekMonth(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.Local)

	tests := []struct {
		name string
		cfg  TimerConfig
		want time.Time
	}{
		{
			name: "day anchor still ahead today",
			cfg:  TimerConfig{Unit: IntervalDay, Value: 1, Hour: intPtr(18), Minute: intPtr(0)},
			want: time.Date(2026, 3, 14, 18, 0, 0, 0, time.Local),
		},
		{
			name: "day anchor elapsed advances by value days",
			cfg:  TimerConfig{Unit: IntervalDay, Value: 2, Hour: intPtr(6), Minute: intPtr(30)},
			want: time.Date(2026, 3, 16, 6, 30, 0, 0, time.Local),
		},
		{
			name: "week anchor elapsed advances by value weeks",
			cfg:  TimerConfig{Unit: IntervalWeek, Value: 1, Hour: intPtr(8), Minute: intPtr(0)},
			want: time.Date(2026, 3, 21, 8, 0, 0, 0, time.Local),
		},
		{
			name: "month anchor elapsed advances by calendar month",
			cfg:  TimerConfig{Unit: IntervalMonth, Value: 1, Hour: intPtr(9), Minute: intPtr(0)},
			want: time.Date(2026, 4, 14, 9, 0, 0, 0, time.Local),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := tt.cfg.NextExecuteAfter(now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestNextExecuteAfterCron(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.Local)

	cfg := &TimerConfig{Cron: "0 12 * * *"}

	next, err := cfg.NextExecuteAfter(now)
	require.NoError(t, err)
	assert.Equal(t, 12, next.Hour())
	assert.True(t, next.After(now))

	_, err = (&TimerConfig{Cron: "not a cron"}).NextExecuteAfter(now)
	assert.ErrorIs(t, err, ErrInvalidTimer)
}

func TestIntervalAdvance(t *testing.T) {
	base := time.Date(2026, 1, 31, 7, 0, 0, 0, time.Local)

	assert.Equal(t, base.Add(10*time.Minute), Interval{Value: 10, Unit: IntervalMinute}.Advance(base))
	assert.Equal(t, base.Add(2*time.Hour), Interval{Value: 2, Unit: IntervalHour}.Advance(base))
	assert.Equal(t, time.Date(2026, 2, 1, 7, 0, 0, 0, time.Local), Interval{Value: 1, Unit: IntervalDay}.Advance(base))
	assert.Equal(t, time.Date(2026, 2, 14, 7, 0, 0, 0, time.Local), Interval{Value: 2, Unit: IntervalWeek}.Advance(base))
	// Calendar month arithmetic normalizes Jan 31 + 1 month.
	assert.Equal(t, base.AddDate(0, 1, 0), Interval{Value: 1, Unit: IntervalMonth}.Advance(base))
}

func TestRecurrenceInterval(t *testing.T) {
	assert.Nil(t, (&TimerConfig{Cron: "* * * * *"}).RecurrenceInterval())
	assert.Nil(t, (&TimerConfig{}).RecurrenceInterval())
	assert.Equal(t, &Interval{Value: 3, Unit: IntervalDay}, (&TimerConfig{Unit: IntervalDay, Value: 3}).RecurrenceInterval())
}

func TestTimerSameSchedule(t *testing.T) {
	a := &WorkflowTimer{
		DomainID:    "d1",
		WorkflowID:  "wf1",
		NodeID:      2,
		Interval:    &Interval{Value: 1, Unit: IntervalDay},
		TriggerData: map[string]any{"node_id": 2},
	}
	b := &WorkflowTimer{
		DomainID:    "d1",
		WorkflowID:  "wf1",
		NodeID:      2,
		Interval:    &Interval{Value: 1, Unit: IntervalDay},
		TriggerData: map[string]any{"node_id": 2},
	}

	assert.True(t, a.SameSchedule(b))

	b.Interval = &Interval{Value: 2, Unit: IntervalDay}
	assert.False(t, a.SameSchedule(b))

	b.Interval = &Interval{Value: 1, Unit: IntervalDay}
	b.TriggerData = map[string]any{"node_id": 3}
	assert.False(t, a.SameSchedule(b))

	one := &WorkflowTimer{TriggerData: map[string]any{}}
	two := &WorkflowTimer{}
	assert.True(t, one.SameSchedule(two))
}
