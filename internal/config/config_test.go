package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: Europe/London
  reset_at: "00:00"
  reset_taken: false
task_engine:
  workers: 4
  default_timeout: 30s
notifier:
  enabled: true
  rate_per_sec: 5
  retry_max: 2
  retry_base: 200ms
  retry_max_delay: 5s
  dedup_window: 1m
  dedup_max_entries: 100
  transport: log
storage:
  driver: sqlite
  path: ./emberon.db
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewConfigManager(p)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "Europe/London", cfg.Scheduler.Timezone)
	assert.False(t, cfg.Scheduler.ResetTakenEnabled())
	require.NotNil(t, cfg.TaskEngine)
	assert.Equal(t, 4, cfg.TaskEngine.Workers)
	require.NotNil(t, cfg.Notifier)
	assert.Equal(t, "log", cfg.Notifier.TransportName())
	assert.Same(t, cfg, m.Get())
	assert.NoError(t, Validate(cfg))
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"scheduler":{"enabled":true,"retry_max":3}}`)
	_, err := NewConfigManager(p).Load()
	assert.Error(t, err)

	p = writeFile(t, dir, "trailing.json", `{"scheduler":{"enabled":true}}{}`)
	_, err = NewConfigManager(p).Load()
	assert.Error(t, err)
}

func TestZoneDefault(t *testing.T) {
	assert.Equal(t, DefaultTimezone, SchedulerConfig{}.Zone())
	assert.Equal(t, DefaultTimezone, SchedulerConfig{Timezone: "  "}.Zone())
	assert.Equal(t, "Asia/Tokyo", SchedulerConfig{Timezone: " Asia/Tokyo "}.Zone())
	assert.Equal(t, "Local", SchedulerConfig{Timezone: "Local"}.Zone())
}

func TestResetTakenDefault(t *testing.T) {
	assert.True(t, SchedulerConfig{}.ResetTakenEnabled())
	no := false
	assert.False(t, SchedulerConfig{ResetTaken: &no}.ResetTakenEnabled())
}

func TestValidate(t *testing.T) {
	off := false
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "empty", cfg: Config{}, ok: true},
		{name: "bad level", cfg: Config{Logging: LoggingConfig{Level: "loud"}}},
		{name: "bad timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}},
		{name: "bad reset_at", cfg: Config{Scheduler: SchedulerConfig{ResetAt: "24:00"}}},
		{name: "bad debounce", cfg: Config{Scheduler: SchedulerConfig{DebounceWindow: "soon"}}},
		{name: "negative fire_timeout", cfg: Config{Scheduler: SchedulerConfig{FireTimeout: "-5s"}}},
		{name: "missed_after not 1h", cfg: Config{Scheduler: SchedulerConfig{MissedAfter: "30m"}}},
		{name: "missed_after 1h", cfg: Config{Scheduler: SchedulerConfig{MissedAfter: "60m"}}, ok: true},
		{name: "engine off with scheduler on", cfg: Config{Scheduler: SchedulerConfig{Enabled: true}, TaskEngine: &TaskEngineConfig{Enabled: &off}}},
		{name: "negative workers", cfg: Config{TaskEngine: &TaskEngineConfig{Workers: -1}}},
		{name: "telegram without token", cfg: Config{Notifier: &NotifierConfig{Transport: "telegram"}}},
		{name: "unknown transport", cfg: Config{Notifier: &NotifierConfig{Transport: "fcm"}}},
		{name: "bad retry_base", cfg: Config{Notifier: &NotifierConfig{RetryBase: "-1s"}}},
		{name: "sqlite without path", cfg: Config{Storage: &StorageConfig{Driver: "sqlite"}}},
		{name: "memory storage", cfg: Config{Storage: &StorageConfig{Driver: "memory"}}, ok: true},
		{name: "unknown driver", cfg: Config{Storage: &StorageConfig{Driver: "mongo", Path: "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Scheduler: SchedulerConfig{Timezone: "UTC"}}
	newCfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "Europe/London"},
		Notifier:  &NotifierConfig{Enabled: true, Transport: "telegram", Telegram: TelegramConfig{Token: "secret"}},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"notifier", "scheduler"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	assert.Empty(t, changed)

	// An omitted notifier section equals the defaults.
	def := DefaultNotifier()
	changed, _ = SummarizeConfigChange(&Config{}, &Config{Notifier: &def})
	assert.Empty(t, changed)
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"scheduler":{"enabled":true,"timezone":"UTC"}}`)
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Rejected by the validator; must not be published.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.json", `{"scheduler":{"enabled":true,"timezone":"Mars/Olympus"}}`)
	time.Sleep(600 * time.Millisecond)
	writeFile(t, dir, "config.json", `{"scheduler":{"enabled":true,"timezone":"Europe/London"}}`)

	select {
	case cfg := <-sub:
		assert.Equal(t, "Europe/London", cfg.Scheduler.Timezone)
		assert.Equal(t, "Europe/London", m.Get().Scheduler.Timezone)
	case <-time.After(5 * time.Second):
		t.Fatal("config update not published")
	}

	cancel()
	<-done
}

func TestToJSON(t *testing.T) {
	j, err := toJSON("cfg.conf", []byte(` {"logging":{"level":"info"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"logging":{"level":"info"}}`, string(j))

	j, err = toJSON("cfg.yml", []byte("scheduler:\n  enabled: true\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"scheduler":{"enabled":true}}`, string(j))

	j, err = toJSON("empty.yaml", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(j))

	_, err = toJSON("bad.yaml", []byte("a: [1,"))
	assert.Error(t, err)
}

func TestLoadTOML(t *testing.T) {
	body := `
[logging]
level = "warn"

[scheduler]
enabled = true
timezone = "Asia/Tokyo"
reset_taken = true

[storage]
driver = "memory"
`
	p := writeFile(t, t.TempDir(), "config.toml", body)
	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "Asia/Tokyo", cfg.Scheduler.Timezone)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.NoError(t, Validate(cfg))

	_, err = NewConfigManager(writeFile(t, t.TempDir(), "bad.toml", "[logging\n")).Load()
	assert.Error(t, err)
}
