package config

import (
	"reflect"
	"sort"
	"strings"

	logx "emberon/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (telegram token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if oSch.Enabled != nSch.Enabled ||
		oSch.Zone() != nSch.Zone() ||
		strings.TrimSpace(oSch.ResetAt) != strings.TrimSpace(nSch.ResetAt) ||
		oSch.ResetTakenEnabled() != nSch.ResetTakenEnabled() ||
		strings.TrimSpace(oSch.DebounceWindow) != strings.TrimSpace(nSch.DebounceWindow) ||
		strings.TrimSpace(oSch.FireTimeout) != strings.TrimSpace(nSch.FireTimeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", nSch.Enabled),
			logx.String("scheduler.timezone", nSch.Zone()),
			logx.String("scheduler.reset_at", strings.TrimSpace(nSch.ResetAt)),
			logx.Bool("scheduler.reset_taken", nSch.ResetTakenEnabled()),
			logx.String("scheduler.debounce_window", strings.TrimSpace(nSch.DebounceWindow)),
			logx.String("scheduler.fire_timeout", strings.TrimSpace(nSch.FireTimeout)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
		)
	}

	// A nil notifier section means runtime defaults.
	oldN, newN := DefaultNotifier(), DefaultNotifier()
	if oldCfg.Notifier != nil {
		oldN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		newN = *newCfg.Notifier
	}
	if !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.String("notifier.transport", transportName(newN)),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.telegram.token_set", strings.TrimSpace(newN.Telegram.Token) != ""),
		)
	}

	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	od, nd := oldCfg.Debug, newCfg.Debug
	if od.Enabled != nd.Enabled || strings.TrimSpace(od.Addr) != strings.TrimSpace(nd.Addr) || od.Token != nd.Token {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nd.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("debug.token_set", nd.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

// DefaultNotifier is the notifier section used when the config omits it.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		Transport:       "log",
	}
}

func transportName(n NotifierConfig) string {
	t := strings.ToLower(strings.TrimSpace(n.Transport))
	if t == "" {
		return "log"
	}
	return t
}

// TransportName returns the effective transport ("log" or "telegram").
func (n NotifierConfig) TransportName() string { return transportName(n) }
