package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"emberon/internal/domain"
	logx "emberon/pkg/logx"
)

// Validate rejects configs that would fail at apply time. The watcher runs it
// before committing a hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}

	sc := cfg.Scheduler
	if tz := sc.Zone(); !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if at := strings.TrimSpace(sc.ResetAt); at != "" {
		if _, _, err := domain.ParseClock(at); err != nil {
			return fmt.Errorf("scheduler.reset_at: %w", err)
		}
	}
	if _, err := ParseDurationField("scheduler.debounce_window", sc.DebounceWindow); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.fire_timeout", sc.FireTimeout); err != nil {
		return err
	}
	if d, err := ParseDurationField("scheduler.missed_after", sc.MissedAfter); err != nil {
		return err
	} else if d != 0 && d != time.Hour {
		return fmt.Errorf("scheduler.missed_after: only 1h is supported, got %s", d)
	}

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			return fmt.Errorf("task_engine.workers must be >= 0")
		}
		if te.QueueSize < 0 {
			return fmt.Errorf("task_engine.queue_size must be >= 0")
		}
		if te.HistorySize < 0 {
			return fmt.Errorf("task_engine.history_size must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return err
		}
		if sc.Enabled && te.Enabled != nil && !*te.Enabled {
			return fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 {
			return fmt.Errorf("notifier.rate_per_sec must be >= 0")
		}
		if n.RetryMax < 0 {
			return fmt.Errorf("notifier.retry_max must be >= 0")
		}
		if n.DedupMaxEntries < 0 {
			return fmt.Errorf("notifier.dedup_max_entries must be >= 0")
		}
		for k, v := range map[string]string{
			"notifier.retry_base":       n.RetryBase,
			"notifier.retry_max_delay":  n.RetryMaxDelay,
			"notifier.send_timeout":     n.SendTimeout,
			"notifier.dedup_window":     n.DedupWindow,
			"notifier.telegram.timeout": n.Telegram.Timeout,
		} {
			if _, err := ParseDurationField(k, v); err != nil {
				return err
			}
		}
		switch n.TransportName() {
		case "log":
		case "telegram":
			if strings.TrimSpace(n.Telegram.Token) == "" {
				return fmt.Errorf("notifier.telegram.token is required when notifier.transport=telegram")
			}
		default:
			return fmt.Errorf("notifier.transport: unknown transport %q", n.Transport)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=sqlite")
			}
		case "memory", "mem":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if d := cfg.Debug; d.Enabled && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			return fmt.Errorf("debug.addr: %w", err)
		}
	}
	return nil
}
