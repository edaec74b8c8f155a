package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	tz := s.cfg.Timezone
	defs := make([]scheduleDef, len(s.defs))
	copy(defs, s.defs)
	c := s.c
	loc := s.loc
	eng := s.engine
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	if tz == "" {
		tz = loc.String()
	}

	now := time.Now().In(loc)
	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Misfires: s.misfireCount(d.name)}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		} else if d.schedule != nil {
			it.Next = d.schedule.Next(now)
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	out := Snapshot{
		Enabled:   enabled,
		Running:   c != nil,
		Timezone:  tz,
		Schedules: items,
		History:   []HistoryItem{},
	}
	if eng != nil {
		es := eng.Snapshot()
		out.Workers = es.Workers
		out.InFlight = es.InFlight
		out.QueueLen = es.QueueLen
		out.QueueCap = es.QueueCap
		out.Dropped = es.Dropped
		out.DefaultTimeout = es.DefaultTimeout
		out.History = es.History
	}
	return out
}
