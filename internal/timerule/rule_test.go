package timerule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func london(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	return loc
}

func TestMissedRuleRollsOverMidnight(t *testing.T) {
	loc := london(t)
	r, err := RuleFor(6, "23:30", loc)
	require.NoError(t, err)

	m := r.Missed()
	assert.Equal(t, 0, m.Day())
	assert.Equal(t, 0, m.Hour())
	assert.Equal(t, 30, m.Minute())
	assert.Same(t, loc, m.Location())
}

func TestMissedRuleSameDay(t *testing.T) {
	r, err := NewRule(3, 8, 0, time.UTC)
	require.NoError(t, err)
	m := r.Missed()
	assert.Equal(t, 3, m.Day())
	assert.Equal(t, 9, m.Hour())
}

func TestComputeMissedFireAcrossWeekBoundary(t *testing.T) {
	loc := london(t)
	// Saturday 2026-10-17 12:00 local.
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, loc)

	rem, err := ComputeNextFire(6, 23, 30, loc, now)
	require.NoError(t, err)
	missed, err := ComputeMissedFire(6, 23, 30, loc, now)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 17, 23, 30, 0, 0, loc), rem.In(loc))
	assert.Equal(t, time.Date(2026, 10, 18, 0, 30, 0, 0, loc), missed.In(loc))
	assert.Equal(t, MissedAfter, missed.Sub(rem))
}

func TestComputeNextFireKeepsLocalTimeAcrossDST(t *testing.T) {
	loc := london(t)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		// Clocks go forward on Sunday 2026-03-29.
		{name: "into BST", now: time.Date(2026, 3, 22, 9, 0, 0, 0, loc), want: time.Date(2026, 3, 29, 8, 30, 0, 0, loc)},
		// Clocks go back on Sunday 2026-10-25.
		{name: "into GMT", now: time.Date(2026, 10, 18, 9, 0, 0, 0, loc), want: time.Date(2026, 10, 25, 8, 30, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextFire(0, 8, 30, loc, tt.now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
			local := got.In(loc)
			assert.Equal(t, 8, local.Hour())
			assert.Equal(t, 30, local.Minute())
			assert.Equal(t, time.Sunday, local.Weekday())
		})
	}
}

func TestNextIsStrictlyAfterNow(t *testing.T) {
	loc := london(t)
	// Wednesday 2026-10-14 08:00 exactly.
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, loc)
	got, err := ComputeNextFire(3, 8, 0, loc, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 21, 8, 0, 0, 0, loc), got.In(loc))

	got, err = ComputeNextFire(3, 8, 0, loc, now.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, now, got.In(loc))
}

func TestNewRuleRejectsOutOfRange(t *testing.T) {
	cases := []struct{ d, h, m int }{{7, 0, 0}, {-1, 0, 0}, {0, 24, 0}, {0, 0, 60}}
	for _, c := range cases {
		_, err := NewRule(c.d, c.h, c.m, time.UTC)
		assert.True(t, errors.Is(err, ErrInvalidRule), "%+v", c)
	}
	_, err := NewRule(0, 0, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = RuleFor(1, "7:5", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = Rule{}.Schedule()
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestSpecAndSlot(t *testing.T) {
	loc := london(t)
	r, err := NewRule(3, 8, 5, loc)
	require.NoError(t, err)
	assert.Equal(t, "CRON_TZ=Europe/London 0 5 8 * * 3", r.Spec())
	assert.Equal(t, "Wednesday 08:05 Europe/London", r.String())
	assert.Equal(t, Slot{EntityID: "e1", Day: 3, Hour: 8, Minute: 5}, r.Slot("e1"))
	assert.NotEqual(t, r.Slot("e1"), r.Missed().Slot("e1"))
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
}
