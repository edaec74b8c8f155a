package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"emberon/internal/domain"
	"emberon/internal/eventbus"
	"emberon/internal/storage"
	"emberon/internal/task/scheduler"
	logx "emberon/pkg/logx"
)

const resetJobName = "reset:daily"

// Config controls the scheduler core.
type Config struct {
	// Location is the reference timezone for rules and the reset sweep.
	Location *time.Location
	// ResetAt is the daily sweep time, "HH:MM" (default "00:00").
	ResetAt    string
	ResetTaken bool
	Debounce   time.Duration
	// FireTimeout bounds each reminder/missed/sweep run (0 uses the engine default).
	FireTimeout time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Service wires the registry, dispatcher and reset sweep.
type Service struct {
	mu sync.Mutex

	cfg      Config
	repo     Repository
	trigger  Trigger
	registry *Registry
	dispatch *Dispatcher
	sweep    *ResetSweep
	log      logx.Logger
	bus      eventbus.Bus
}

func NewService(cfg Config, repo Repository, sender Sender, trigger Trigger, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = withDefaults(cfg)
	s := &Service{cfg: cfg, repo: repo, trigger: trigger, log: log, bus: bus}
	s.dispatch = NewDispatcher(repo, sender, cfg.Debounce, cfg.Now, log.With(logx.String("comp", "dispatch")), bus)
	s.registry = NewRegistry(trigger, Callbacks{Reminder: s.dispatch.Reminder, Missed: s.dispatch.Missed}, cfg.Location, cfg.FireTimeout, log.With(logx.String("comp", "registry")))
	s.sweep = NewResetSweep(repo, cfg.Location, cfg.ResetTaken, cfg.Now, log.With(logx.String("comp", "reset")), bus)
	return s
}

func withDefaults(cfg Config) Config {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if strings.TrimSpace(cfg.ResetAt) == "" {
		cfg.ResetAt = "00:00"
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

func (s *Service) Registry() *Registry     { return s.registry }
func (s *Service) Dispatcher() *Dispatcher { return s.dispatch }

func (s *Service) Sweep() *ResetSweep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweep
}

// RunResetSweep runs the reset sweep once, outside its schedule.
func (s *Service) RunResetSweep(ctx context.Context) (SweepResult, error) {
	return s.Sweep().Run(ctx)
}

func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Location
}

// InitializeAll tears down every job and rebuilds them from the repository.
// Only a failed listing is returned; per-supplement failures are logged.
func (s *Service) InitializeAll(ctx context.Context) error {
	start := time.Now()
	cancelled := s.registry.CancelAll()

	list, err := s.repo.FindSupplements(ctx, storage.Filter{WithOwner: true})
	if err != nil {
		s.log.Error("initialize: listing supplements failed", logx.Err(err))
		return fmt.Errorf("initialize schedules: %w", err)
	}

	seen := make(map[domain.DedupKey]string, len(list))
	var scheduled, dupes, orphans, failed int
	for _, sup := range list {
		if first, ok := seen[sup.DedupKey()]; ok {
			dupes++
			s.log.Warn("duplicate supplement skipped", logx.String("supplement", sup.ID), logx.String("kept", first))
			continue
		}
		seen[sup.DedupKey()] = sup.ID

		if sup.Owner == nil {
			orphans++
			s.log.Warn("supplement without owner skipped", logx.String("supplement", sup.ID), logx.String("owner", sup.OwnerID))
			continue
		}
		if _, err := s.registry.ScheduleEntity(sup); err != nil {
			failed++
			s.log.Error("schedule supplement failed", logx.String("supplement", sup.ID), logx.Err(err))
			continue
		}
		scheduled++
	}

	s.log.Info("schedules initialized",
		logx.Int("cancelled", cancelled),
		logx.Int("loaded", len(list)),
		logx.Int("scheduled", scheduled),
		logx.Int("duplicates", dupes),
		logx.Int("orphans", orphans),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

// ScheduleOne (re)schedules a single created or edited supplement.
func (s *Service) ScheduleOne(ctx context.Context, sup domain.Supplement) (JobSet, error) {
	if sup.Owner == nil {
		o, ok, err := s.repo.FindOwner(ctx, sup.OwnerID)
		if err != nil {
			return JobSet{}, fmt.Errorf("schedule %s: load owner: %w", sup.ID, err)
		}
		if !ok {
			return JobSet{}, fmt.Errorf("%w: %s: owner %s not found", ErrScheduleFailed, sup.ID, sup.OwnerID)
		}
		sup.Owner = &o
	}
	s.registry.CancelEntity(sup.ID)
	set, err := s.registry.ScheduleEntity(sup)
	if err != nil {
		s.log.Error("schedule supplement failed", logx.String("supplement", sup.ID), logx.Err(err))
		return JobSet{}, err
	}
	return set, nil
}

// CancelEntity drops both jobs of a deleted supplement.
func (s *Service) CancelEntity(id string) bool {
	return s.registry.CancelEntity(id)
}

// StartDailyResetJob registers the global reset sweep at ResetAt in the
// reference timezone.
func (s *Service) StartDailyResetJob() (scheduler.Handle, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	handle, err := s.trigger.AddDaily(resetJobName, cfg.ResetAt, cfg.Location, cfg.FireTimeout, func(ctx context.Context) error {
		_, err := s.RunResetSweep(ctx)
		return err
	})
	if err != nil {
		return scheduler.Handle{}, fmt.Errorf("reset job: %w", err)
	}
	if !handle.Valid() {
		return scheduler.Handle{}, errors.New("reset job: invalid handle")
	}
	s.log.Info("daily reset scheduled", logx.String("at", cfg.ResetAt), logx.String("tz", cfg.Location.String()), logx.Time("next", s.trigger.Next(resetJobName)))
	return handle, nil
}

// StopDailyResetJob removes the reset sweep trigger.
func (s *Service) StopDailyResetJob() bool {
	return s.trigger.Remove(resetJobName)
}

// NextFires returns the next reminder and missed instants of a scheduled supplement.
func (s *Service) NextFires(id string) (reminder, missed time.Time, ok bool) {
	return s.registry.NextFires(id)
}

// Apply updates the reference timezone, debounce, fire timeout and reset
// policy, and re-registers the reset job when its schedule changed. Existing
// supplement jobs keep their old zone and timeout; on rebuild the caller
// re-runs InitializeAll.
func (s *Service) Apply(cfg Config) (rebuild bool, err error) {
	s.mu.Lock()
	old := s.cfg
	cfg.Now = old.Now
	cfg = withDefaults(cfg)
	s.cfg = cfg
	s.sweep = NewResetSweep(s.repo, cfg.Location, cfg.ResetTaken, cfg.Now, s.log.With(logx.String("comp", "reset")), s.bus)
	s.mu.Unlock()

	zoneChanged := old.Location.String() != cfg.Location.String()
	timeoutChanged := old.FireTimeout != cfg.FireTimeout
	s.dispatch.SetDebounce(cfg.Debounce)
	s.registry.SetLocation(cfg.Location)
	s.registry.SetTimeout(cfg.FireTimeout)
	if zoneChanged || timeoutChanged || old.ResetAt != cfg.ResetAt {
		_, err = s.StartDailyResetJob()
	}
	return zoneChanged || timeoutChanged, err
}
