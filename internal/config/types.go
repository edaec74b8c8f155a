package config

import "strings"

// Config is the on-disk configuration (JSON or YAML).
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the supplement triggers and the daily reset sweep.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of fired triggers.
	// If omitted, runtime defaults apply (see TaskEngineConfig).
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	Debug DebugConfig `json:"debug,omitempty"`
}

// DebugConfig controls the optional HTTP debug server (healthz, schedules, pprof).
// Prefer a loopback addr; a non-loopback addr requires a token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token   string `json:"token,omitempty"` // do not log
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout bounds every fired callback. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// NotifierConfig controls push delivery.
//
// If the whole section is omitted, the notifier defaults to enabled=true
// with the log transport.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`

	// Transport is "log" (default) or "telegram".
	Transport string         `json:"transport,omitempty"`
	Telegram  TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// Offline builds the bot without contacting the API (useful in tests and dry runs).
	Offline bool `json:"offline,omitempty"`
	// Timeout is the HTTP client timeout, a Go duration string.
	Timeout string `json:"timeout,omitempty"`
}

// StorageConfig controls the repository.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./emberon.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the reminder scheduler.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is the reference IANA zone for every rule (default DefaultTimezone).
	// "Local" selects the host zone.
	Timezone string `json:"timezone,omitempty"`

	// ResetAt is the daily reset sweep time, "HH:MM" (default "00:00").
	ResetAt string `json:"reset_at,omitempty"`

	// ResetTaken makes the sweep also return taken supplements to pending.
	// Nil means true.
	ResetTaken *bool `json:"reset_taken,omitempty"`

	// DebounceWindow suppresses a reminder after a recent refresh (default "5m").
	DebounceWindow string `json:"debounce_window,omitempty"`

	// FireTimeout bounds each reminder, missed and sweep run (empty uses the engine default).
	FireTimeout string `json:"fire_timeout,omitempty"`

	// MissedAfter is informational; the missed check is always one hour after the reminder.
	MissedAfter string `json:"missed_after,omitempty"`
}

// DefaultTimezone is the reference zone when scheduler.timezone is empty.
const DefaultTimezone = "Europe/London"

// Zone resolves the timezone default.
func (s SchedulerConfig) Zone() string {
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

// ResetTakenEnabled resolves the reset_taken default.
func (s SchedulerConfig) ResetTakenEnabled() bool {
	if s.ResetTaken == nil {
		return true
	}
	return *s.ResetTaken
}
