package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"emberon/internal/eventbus"
	"emberon/internal/task/engine"
	"emberon/internal/timerule"
	logx "emberon/pkg/logx"
)

func New(cfg Config, engine *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		engine:   engine,
		misfires: map[string]*misfireStat{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Location returns the default location for specs without CRON_TZ.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc == nil {
		return time.Local
	}
	return s.loc
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		s.loc = s.loadLocationLocked()
		return
	}
	if oldTZ != newTZ {
		// restart cron with new location and re-register definitions
		s.restartLocked()
	}
}

// Start starts cron triggering. Definitions registered before Start are
// attached now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	cur := s.cfg
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.String("tz", strings.TrimSpace(cur.Timezone)))
	if !cur.Enabled {
		s.log.Warn("scheduler disabled; triggers are kept but will not fire", logx.Int("schedules", len(s.defs)))
		return
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(timerule.Parser), cron.WithLocation(loc))

	for i := range s.defs {
		s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops cron triggering. Definitions remain so they resume on next Start().
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(timerule.Parser), cron.WithLocation(loc))
	for i := range s.defs {
		s.defs[i].entryID = 0
		// Specs without CRON_TZ follow the new default location.
		if sched, err := s.parseLocked(s.defs[i].spec); err == nil {
			s.defs[i].schedule = sched
		}
		s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	loc, err := timerule.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
