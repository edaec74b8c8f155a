package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"emberon/internal/eventbus"
	"emberon/internal/task/engine"
	logx "emberon/pkg/logx"
)

// Config controls the scheduler (trigger) service.
//
// Timezone is the default location for specs that carry no CRON_TZ prefix.
// Weekly rules always carry their own zone.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/London"
}

// Re-export execution types from engine.
type OverlapPolicy = engine.OverlapPolicy

type TaskOptions = engine.TaskOptions

type HistoryItem = engine.HistoryItem

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Handle identifies one registered trigger. Name is the stable key used for
// upsert and removal; Entry is the live cron entry (0 until Start).
type Handle struct {
	Name  string
	Entry cron.EntryID
}

func (h Handle) Valid() bool { return h.Name != "" }

type scheduleDef struct {
	name     string
	spec     string
	schedule cron.Schedule
	timeout  time.Duration
	job      func(ctx context.Context) error
	entryID  cron.EntryID
	opt      TaskOptions
	state    *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	c    *cron.Cron
	defs []scheduleDef

	enqMu    sync.Mutex
	misfires map[string]*misfireStat
}

type ScheduleInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Misfires uint64
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string

	// Executor diagnostics (task engine).
	Workers        int
	InFlight       int
	QueueLen       int
	QueueCap       int
	Dropped        uint64
	DefaultTimeout time.Duration

	Schedules []ScheduleInfo
	History   []HistoryItem
}
