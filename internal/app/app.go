package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"emberon/internal/config"
	"emberon/internal/eventbus"
	"emberon/internal/notifier"
	"emberon/internal/observability/debugsrv"
	"emberon/internal/reminder"
	"emberon/internal/runtime/supervisor"
	"emberon/internal/storage"
	"emberon/internal/task/engine"
	"emberon/internal/task/scheduler"
	"emberon/internal/transport"
	"emberon/internal/transport/telegram"
	logx "emberon/pkg/logx"
	"emberon/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	reminders *reminder.Service
	debug     *debugsrv.Server

	sd systemd.Notifier
}

// New loads the config and builds every component without starting any of them.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, store, logSvc, log, bus)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	return a, nil
}

// build wires the services over an opened store.
func build(cfg *config.Config, store storage.Store, logSvc *logx.Service, log logx.Logger, bus eventbus.Bus) (*App, error) {
	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		return nil, err
	}
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg, rcfg.Location)
	if err != nil {
		return nil, err
	}
	tr, err := newTransport(cfg, log.With(logx.String("comp", "transport")))
	if err != nil {
		return nil, err
	}

	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log.With(logx.String("comp", "scheduler")), bus)
	notifSvc := notifier.New(ncfg, tr, store, log.With(logx.String("comp", "notifier")), bus)
	remSvc := reminder.NewService(rcfg, store, notifSvc, schedSvc, log.With(logx.String("comp", "reminder")), bus)

	a := &App{
		log:       log,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		engine:    engineSvc,
		sched:     schedSvc,
		notif:     notifSvc,
		reminders: remSvc,
	}
	a.debug = debugsrv.New(mapDebugConfig(cfg), a.State, log.With(logx.String("comp", "debug")))
	return a, nil
}

func newTransport(cfg *config.Config, log logx.Logger) (transport.Transport, error) {
	n := config.DefaultNotifier()
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	switch n.TransportName() {
	case "telegram":
		timeout, err := config.ParseDurationOrDefault("notifier.telegram.timeout", n.Telegram.Timeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{
			Token:   n.Telegram.Token,
			Offline: n.Telegram.Offline,
			Timeout: timeout,
		}, log)
	case "log":
		return transport.NewLog(log), nil
	default:
		return nil, fmt.Errorf("unknown notifier.transport: %s", n.Transport)
	}
}

func (a *App) Store() storage.Store          { return a.store }
func (a *App) Reminders() *reminder.Service  { return a.reminders }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Notifier() *notifier.Service   { return a.notif }
func (a *App) Logger() logx.Logger           { return a.log }
func (a *App) Config() *config.ConfigManager { return a.cfgm }

// State is the runtime view served by the debug server.
func (a *App) State() any {
	type jobView struct {
		Supplement   string    `json:"supplement"`
		Reminder     string    `json:"reminder"`
		Missed       string    `json:"missed"`
		NextReminder time.Time `json:"next_reminder"`
		NextMissed   time.Time `json:"next_missed"`
	}
	sets := a.reminders.Registry().Snapshot()
	jobs := make([]jobView, 0, len(sets))
	for _, set := range sets {
		rem, missed, _ := a.reminders.NextFires(set.Key.EntityID)
		jobs = append(jobs, jobView{
			Supplement:   set.Key.EntityID,
			Reminder:     set.ReminderRule.String(),
			Missed:       set.MissedRule.String(),
			NextReminder: rem,
			NextMissed:   missed,
		})
	}
	out := map[string]any{
		"timezone":  a.reminders.Location().String(),
		"jobs":      jobs,
		"scheduler": a.sched.Snapshot(),
		"pushes":    a.notif.Snapshot(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	return out
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start brings up the engine and scheduler, rebuilds every supplement's jobs
// from storage and registers the daily reset. A failed initial load aborts it.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if _, err := mapTaskEngineConfig(cfg); err != nil {
				return err
			}
			_, err := mapReminderConfig(cfg)
			return err
		})
	}

	if a.engine.Enabled() {
		a.engine.Start(runCtx)
	}
	if a.sched.Enabled() {
		a.sched.Start(runCtx)
	}

	if err := a.reminders.InitializeAll(runCtx); err != nil {
		a.sup.Cancel()
		return err
	}
	if _, err := a.reminders.StartDailyResetJob(); err != nil {
		a.sup.Cancel()
		return err
	}

	if a.debug.Enabled() {
		if err := a.debug.Start(runCtx); err != nil {
			a.log.Warn("debug server not started", logx.Err(err))
		}
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
				}
			}
		})
	}

	if a.cfgm != nil {
		a.startConfigReload()
		a.sup.GoRestart("config.watch", 500*time.Millisecond, 10*time.Second, a.cfgm.Watch)
	}

	a.sup.Go("systemd.watchdog", a.sd.Watchdog)
	if ok, err := a.sd.Ready(fmt.Sprintf("%d supplements scheduled", a.reminders.Registry().Len())); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.Int("supplements", a.reminders.Registry().Len()),
		logx.String("tz", a.reminders.Location().String()),
	)
	return nil
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig hot-applies a validated config. Storage and transport changes
// need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	_, _ = a.sd.Reloading()
	defer func() {
		_, _ = a.sd.Ready(fmt.Sprintf("%d supplements scheduled", a.reminders.Registry().Len()))
	}()

	has := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if has("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if has("logging") {
		if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
			a.log.Warn("log sink reconfigure failed", logx.Err(err))
		}
	}

	if has("task_engine") || has("scheduler") {
		engCfg, err := mapTaskEngineConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		} else {
			wasEnabled := a.engine.Enabled()
			a.engine.Apply(engCfg)
			switch {
			case wasEnabled && !engCfg.Enabled:
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.engine.Stop(stopCtx)
				cancel()
				a.log.Info("task engine disabled via config")
			case !wasEnabled && engCfg.Enabled:
				a.engine.Start(ctx)
				a.log.Info("task engine enabled via config")
			}
		}

		prevSched := a.sched.Enabled()
		a.sched.Apply(mapSchedulerConfig(newCfg))
		switch {
		case prevSched && !newCfg.Scheduler.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
			a.log.Info("scheduler disabled via config")
		case !prevSched && newCfg.Scheduler.Enabled:
			a.sched.Start(ctx)
			a.log.Info("scheduler enabled via config")
		}
	}

	var loc *time.Location
	if rcfg, err := mapReminderConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		loc = rcfg.Location
		rebuild, err := a.reminders.Apply(rcfg)
		if err != nil {
			a.log.Error("daily reset re-registration failed", logx.Err(err))
		}
		if rebuild {
			a.log.Info("timezone or fire timeout changed; rebuilding schedules", logx.String("tz", loc.String()), logx.Duration("fire_timeout", rcfg.FireTimeout))
			if err := a.reminders.InitializeAll(ctx); err != nil {
				a.log.Error("schedule rebuild failed", logx.Err(err))
			}
		}
	}

	if has("notifier") || loc != nil {
		if oldN, newN := notifierOf(oldCfg), notifierOf(newCfg); oldN.TransportName() != newN.TransportName() || oldN.Telegram != newN.Telegram {
			a.log.Warn("notifier transport changed; restart required for changes to take effect")
		}
		if ncfg, err := mapNotifierConfig(newCfg, loc); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}

	if has("debug") {
		if err := a.debug.Reconfigure(ctx, mapDebugConfig(newCfg)); err != nil {
			a.log.Warn("debug server reconfigure failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func notifierOf(cfg *config.Config) config.NotifierConfig {
	if cfg == nil || cfg.Notifier == nil {
		return config.DefaultNotifier()
	}
	return *cfg.Notifier
}

// Stop tears everything down in reverse start order. Each step is bounded so
// one component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("debug", time.Second, a.debug.Stop)
	step("reset", time.Second, func(context.Context) error { a.reminders.StopDailyResetJob(); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
