package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"emberon/internal/domain"
	"emberon/internal/task/engine"
	"emberon/internal/timerule"
	logx "emberon/pkg/logx"
)

var ErrNameRequired = errors.New("schedule name required")

// AddRule registers a weekly rule under name. The rule's own timezone pins the
// wall-clock time, independent of the scheduler's default location.
func (s *Service) AddRule(name string, r timerule.Rule, timeout time.Duration, job func(ctx context.Context) error) (Handle, error) {
	if r.IsZero() {
		return Handle{}, timerule.ErrInvalidRule
	}
	return s.AddCron(name, r.Spec(), timeout, job)
}

// AddCron registers a cron spec under name. Scheduled jobs skip a fire if the
// previous run is still in-flight (or queued).
func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (Handle, error) {
	return s.AddCronOpt(name, spec, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Handle{}, ErrNameRequired
	}
	if job == nil {
		return Handle{}, fmt.Errorf("schedule %q: job is nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.parseLocked(spec)
	if err != nil {
		return Handle{}, fmt.Errorf("schedule %q: %w", name, err)
	}

	// Upsert by name: remove previous schedule with the same name to prevent duplicates
	// across hot-reloads or repeated registrations.
	_ = s.removeScheduleLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:     name,
		spec:     spec,
		schedule: sched,
		timeout:  timeout,
		job:      job,
		opt:      opt,
		state:    &engine.RunState{},
	})
	d := &s.defs[len(s.defs)-1]
	if s.c == nil {
		// Not started yet: keep definition and register when Start() runs.
		return Handle{Name: name}, nil
	}

	s.addCronLocked(d)
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", d.timeout)}
	if next := s.previewNextRunsLocked(sched, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return Handle{Name: name, Entry: d.entryID}, nil
}

// AddDaily registers a job at HH:MM every day in loc (scheduler timezone when nil).
func (s *Service) AddDaily(name, atHHMM string, loc *time.Location, timeout time.Duration, job func(ctx context.Context) error) (Handle, error) {
	h, m, err := domain.ParseClock(atHHMM)
	if err != nil {
		return Handle{}, err
	}
	spec := fmt.Sprintf("0 %d %d * * *", m, h)
	if loc != nil {
		spec = fmt.Sprintf("CRON_TZ=%s %s", loc.String(), spec)
	}
	return s.AddCron(name, spec, timeout, job)
}

// Remove unschedules the trigger with the given name. It returns true if something was removed.
// Safe to call even when the scheduler is not started.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()

	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Has reports whether a trigger named name is registered.
func (s *Service) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name == name {
			return true
		}
	}
	return false
}

// Next returns the next fire time of name, or the zero time if unknown.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			if e := s.c.Entry(d.entryID); e.Valid() && !e.Next.IsZero() {
				return e.Next
			}
		}
		if d.schedule != nil {
			return d.schedule.Next(time.Now())
		}
	}
	return time.Time{}
}

// Len returns the number of registered triggers.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.defs)
}

// removeScheduleLocked removes all defs matching name and unregisters them from cron if running.
// Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) {
	name, timeout, run, opt, state := d.name, d.timeout, d.job, d.opt, d.state
	job := cron.FuncJob(func() {
		if s.engine == nil {
			return
		}
		err := s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Run:     run,
			Opt:     opt,
			State:   state,
		})
		if err != nil {
			s.reportEnqueueError(name, err)
		}
	})
	d.entryID = s.c.Schedule(d.schedule, job)
}

// parseLocked parses spec in the scheduler's default location. Call with s.mu held.
func (s *Service) parseLocked(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty spec")
	}
	if !strings.HasPrefix(spec, "TZ=") && !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "@") {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		spec = fmt.Sprintf("CRON_TZ=%s %s", loc.String(), spec)
	}
	return timerule.Parser.Parse(spec)
}

// previewNextRunsLocked returns a short, human-friendly list of upcoming run times.
func (s *Service) previewNextRunsLocked(sched cron.Schedule, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	t := time.Now()
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}
