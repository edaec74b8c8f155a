package scheduler

import (
	"errors"
	"time"

	"emberon/internal/eventbus"
	"emberon/internal/task/engine"
	logx "emberon/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// EventMisfire is published when a trigger fired but its task was not queued.
const EventMisfire = "schedule.misfire"

// Misfire describes a trigger whose task could not be queued.
type Misfire struct {
	Schedule string
	Err      string
	At       time.Time
}

type misfireStat struct {
	count    uint64
	lastWarn time.Time
}

// reportEnqueueError counts the misfire and warns at most once per
// enqueueWarnThrottle per schedule. Overlap skips are expected and only debug-logged.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("trigger skipped, previous run still active", logx.String("schedule", name))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	st := s.misfires[name]
	if st == nil {
		st = &misfireStat{}
		s.misfires[name] = st
	}
	st.count++
	warn := st.lastWarn.IsZero() || now.Sub(st.lastWarn) >= enqueueWarnThrottle
	if warn {
		st.lastWarn = now
	}
	s.enqMu.Unlock()

	eventbus.Publish(s.bus, EventMisfire, Misfire{Schedule: name, Err: err.Error(), At: now})
	if warn {
		s.log.Warn("trigger not queued", logx.String("schedule", name), logx.Err(err))
	}
}

func (s *Service) misfireCount(name string) uint64 {
	s.enqMu.Lock()
	defer s.enqMu.Unlock()
	if st := s.misfires[name]; st != nil {
		return st.count
	}
	return 0
}
