package app

import (
	"fmt"
	"strings"
	"time"

	"emberon/internal/config"
	"emberon/internal/notifier"
	"emberon/internal/observability/debugsrv"
	"emberon/internal/reminder"
	"emberon/internal/storage"
	"emberon/internal/task/engine"
	"emberon/internal/task/scheduler"
	"emberon/internal/timerule"
	logx "emberon/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, fmt.Errorf("storage section is required")
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	switch driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	enabled := cfg.Scheduler.Enabled
	workers, queueSize, historySize := 2, 256, 200
	defTimeout := ""

	if te := cfg.TaskEngine; te != nil {
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		if te.Workers > 0 {
			workers = te.Workers
		}
		if te.QueueSize > 0 {
			queueSize = te.QueueSize
		}
		if te.HistorySize > 0 {
			historySize = te.HistorySize
		}
		defTimeout = te.DefaultTimeout
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	timeout, err := config.ParseDurationField("task_engine.default_timeout", defTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: timeout,
		HistorySize:    historySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Zone(),
	}
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	sc := cfg.Scheduler
	loc, err := timerule.LoadLocation(sc.Zone())
	if err != nil {
		return reminder.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
	}
	debounce, err := config.ParseDurationOrDefault("scheduler.debounce_window", sc.DebounceWindow, reminder.DefaultDebounce)
	if err != nil {
		return reminder.Config{}, err
	}
	timeout, err := config.ParseDurationField("scheduler.fire_timeout", sc.FireTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		Location:    loc,
		ResetAt:     strings.TrimSpace(sc.ResetAt),
		ResetTaken:  sc.ResetTakenEnabled(),
		Debounce:    debounce,
		FireTimeout: timeout,
	}, nil
}

func mapNotifierConfig(cfg *config.Config, loc *time.Location) (notifier.Config, error) {
	n := config.DefaultNotifier()
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	out := notifier.Config{
		Enabled:         n.Enabled,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	if loc != nil {
		out.Timezone = loc.String()
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 10*time.Second); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	return debugsrv.Config{
		Enabled: cfg.Debug.Enabled,
		Addr:    strings.TrimSpace(cfg.Debug.Addr),
		Token:   strings.TrimSpace(cfg.Debug.Token),
	}
}
