package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberon/internal/eventbus"
	"emberon/internal/task/engine"
	"emberon/internal/timerule"
	logx "emberon/pkg/logx"
)

func noop(context.Context) error { return nil }

func newService(t *testing.T) (*Service, *engine.Service) {
	t.Helper()
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	s := New(Config{Enabled: true, Timezone: "Europe/London"}, eng, logx.Nop(), nil)
	return s, eng
}

func TestAddRuleBeforeStartIsDeferred(t *testing.T) {
	s, _ := newService(t)
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	r, err := timerule.NewRule(3, 8, 0, loc)
	require.NoError(t, err)

	h, err := s.AddRule("reminder:s1", r, 0, noop)
	require.NoError(t, err)
	assert.True(t, h.Valid())
	assert.Zero(t, h.Entry)
	assert.True(t, s.Has("reminder:s1"))

	next := s.Next("reminder:s1")
	require.False(t, next.IsZero())
	local := next.In(loc)
	assert.Equal(t, time.Wednesday, local.Weekday())
	assert.Equal(t, 8, local.Hour())

	s.Start(context.Background())
	defer s.Stop(context.Background())
	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.True(t, snap.Running)
	assert.True(t, next.Equal(snap.Schedules[0].Next))
}

func TestAddCronUpsertsByName(t *testing.T) {
	s, _ := newService(t)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	h1, err := s.AddCron("job", "0 0 9 * * *", 0, noop)
	require.NoError(t, err)
	h2, err := s.AddCron("job", "0 0 10 * * *", 0, noop)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len())
	assert.NotEqual(t, h1.Entry, h2.Entry)
	assert.Equal(t, 10, s.Next("job").In(s.Location()).Hour())
}

func TestAddCronRejectsBadInput(t *testing.T) {
	s, _ := newService(t)
	_, err := s.AddCron("", "* * * * *", 0, noop)
	assert.ErrorIs(t, err, ErrNameRequired)
	_, err = s.AddCron("x", "not a spec", 0, noop)
	assert.Error(t, err)
	_, err = s.AddCron("x", "* * * * *", 0, nil)
	assert.Error(t, err)
	_, err = s.AddRule("x", timerule.Rule{}, 0, noop)
	assert.ErrorIs(t, err, timerule.ErrInvalidRule)
	_, err = s.AddDaily("x", "25:00", nil, 0, noop)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestRemove(t *testing.T) {
	s, _ := newService(t)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_, err := s.AddDaily("reset", "00:00", s.Location(), 0, noop)
	require.NoError(t, err)
	assert.True(t, s.Remove("reset"))
	assert.False(t, s.Remove("reset"))
	assert.False(t, s.Has("reset"))
	assert.True(t, s.Next("reset").IsZero())
}

func TestFireEnqueuesIntoEngine(t *testing.T) {
	s, eng := newService(t)
	eng.Start(context.Background())
	defer eng.Stop(context.Background())

	var fired atomic.Int32
	_, err := s.AddCron("tick", "* * * * * *", time.Second, func(context.Context) error {
		fired.Add(1)
		return nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.Eventually(t, func() bool { return fired.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.NotEmpty(t, s.Snapshot().History)
}

func TestDisabledSchedulerDoesNotStart(t *testing.T) {
	s := New(Config{Enabled: false}, nil, logx.Nop(), nil)
	_, err := s.AddCron("job", "0 0 9 * * *", 0, noop)
	require.NoError(t, err)
	s.Start(context.Background())
	assert.False(t, s.Snapshot().Running)
	assert.False(t, s.Next("job").IsZero())
}

func TestMisfireWhenEngineNotRunning(t *testing.T) {
	bus := eventbus.New()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	// Engine never started: every enqueue fails with ErrStopped.
	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	s := New(Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop(), bus)
	_, err := s.AddCron("tick", "* * * * * *", 0, noop)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	select {
	case ev := <-events:
		assert.Equal(t, EventMisfire, ev.Type)
		m, ok := ev.Data.(Misfire)
		require.True(t, ok)
		assert.Equal(t, "tick", m.Schedule)
	case <-time.After(3 * time.Second):
		t.Fatal("no misfire event")
	}

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.GreaterOrEqual(t, snap.Schedules[0].Misfires, uint64(1))
}
