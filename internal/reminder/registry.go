package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"emberon/internal/domain"
	"emberon/internal/task/scheduler"
	"emberon/internal/timerule"
	logx "emberon/pkg/logx"
)

var ErrScheduleFailed = errors.New("schedule failed")

// Trigger is the recurring-timer primitive. The cron scheduler implements it.
type Trigger interface {
	AddRule(name string, r timerule.Rule, timeout time.Duration, job func(ctx context.Context) error) (scheduler.Handle, error)
	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (scheduler.Handle, error)
	AddDaily(name, atHHMM string, loc *time.Location, timeout time.Duration, job func(ctx context.Context) error) (scheduler.Handle, error)
	Remove(name string) bool
	Next(name string) time.Time
}

// JobKey identifies the job pair of one supplement.
type JobKey struct {
	EntityID string
}

func (k JobKey) String() string { return "supplement:" + k.EntityID }

func (k JobKey) reminderName() string { return "reminder:" + k.EntityID }
func (k JobKey) missedName() string   { return "missed:" + k.EntityID }

// JobSet is the live reminder + missed pair for one supplement.
type JobSet struct {
	Key          JobKey
	Reminder     scheduler.Handle
	Missed       scheduler.Handle
	ReminderRule timerule.Rule
	MissedRule   timerule.Rule
}

func (j JobSet) ReminderSlot() timerule.Slot { return j.ReminderRule.Slot(j.Key.EntityID) }
func (j JobSet) MissedSlot() timerule.Slot   { return j.MissedRule.Slot(j.Key.EntityID) }

// Callbacks run when a supplement's triggers fire. They receive only the ID.
type Callbacks struct {
	Reminder func(ctx context.Context, id string) error
	Missed   func(ctx context.Context, id string) error
}

// Registry owns every live per-supplement trigger. All mutations are
// serialized; old handles are always removed before new ones are installed.
type Registry struct {
	mu      sync.Mutex
	trigger Trigger
	cb      Callbacks
	loc     *time.Location
	timeout time.Duration
	log     logx.Logger

	jobs map[JobKey]JobSet
}

func NewRegistry(trigger Trigger, cb Callbacks, loc *time.Location, timeout time.Duration, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Registry{
		trigger: trigger,
		cb:      cb,
		loc:     loc,
		timeout: timeout,
		log:     log,
		jobs:    map[JobKey]JobSet{},
	}
}

// SetLocation changes the zone used for rules built after the call.
func (r *Registry) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	r.mu.Lock()
	r.loc = loc
	r.mu.Unlock()
}

// SetTimeout changes the fire timeout for jobs registered after the call.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

func (r *Registry) Location() *time.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loc
}

// ScheduleEntity (re)registers the reminder and missed triggers for s.
// Either both are live afterwards or neither is.
func (r *Registry) ScheduleEntity(s domain.Supplement) (JobSet, error) {
	key := JobKey{EntityID: s.ID}
	if s.ID == "" {
		return JobSet{}, fmt.Errorf("%w: supplement id required", ErrScheduleFailed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelLocked(key)

	rem, err := timerule.RuleFor(s.Day, s.Time, r.loc)
	if err != nil {
		return JobSet{}, fmt.Errorf("%w: %s: %v", ErrScheduleFailed, key, err)
	}
	set := JobSet{Key: key, ReminderRule: rem, MissedRule: rem.Missed()}

	// Jobs are keyed by supplement, so the cancel above is the only collision
	// possible. Other supplements sharing the same weekly time keep their jobs;
	// same-name duplicates are filtered by InitializeAll.

	id := s.ID
	set.Reminder, err = r.trigger.AddRule(key.reminderName(), set.ReminderRule, r.timeout, func(ctx context.Context) error {
		return r.cb.Reminder(ctx, id)
	})
	if err == nil && !set.Reminder.Valid() {
		err = errors.New("invalid reminder handle")
	}
	if err == nil {
		set.Missed, err = r.trigger.AddRule(key.missedName(), set.MissedRule, r.timeout, func(ctx context.Context) error {
			return r.cb.Missed(ctx, id)
		})
		if err == nil && !set.Missed.Valid() {
			err = errors.New("invalid missed handle")
		}
	}
	if err != nil {
		r.trigger.Remove(key.reminderName())
		r.trigger.Remove(key.missedName())
		return JobSet{}, fmt.Errorf("%w: %s: %v", ErrScheduleFailed, key, err)
	}

	r.jobs[key] = set
	r.log.Info("supplement scheduled",
		logx.String("key", key.String()),
		logx.String("reminder", set.ReminderRule.String()),
		logx.String("missed", set.MissedRule.String()),
		logx.Time("next_reminder", r.trigger.Next(key.reminderName())),
		logx.Time("next_missed", r.trigger.Next(key.missedName())),
	)
	return set, nil
}

// CancelEntity removes both triggers for id. It is a no-op if none exist.
func (r *Registry) CancelEntity(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelLocked(JobKey{EntityID: id})
}

// CancelAll removes every trigger and returns how many job pairs were live.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.jobs {
		if r.cancelLocked(k) {
			n++
		}
	}
	return n
}

// cancelLocked removes both triggers of key. Call with r.mu held.
func (r *Registry) cancelLocked(key JobKey) bool {
	_, ok := r.jobs[key]
	// Remove by name even without an entry so a half-registered pair is torn down.
	a := r.trigger.Remove(key.reminderName())
	b := r.trigger.Remove(key.missedName())
	delete(r.jobs, key)
	if ok {
		r.log.Debug("supplement jobs cancelled", logx.String("key", key.String()))
	}
	return ok || a || b
}

func (r *Registry) Get(id string) (JobSet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.jobs[JobKey{EntityID: id}]
	return set, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Snapshot returns the live job sets ordered by entity ID.
func (r *Registry) Snapshot() []JobSet {
	r.mu.Lock()
	out := make([]JobSet, 0, len(r.jobs))
	for _, set := range r.jobs {
		out = append(out, set)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.EntityID < out[j].Key.EntityID })
	return out
}

// NextFires returns the upcoming reminder and missed instants for id.
func (r *Registry) NextFires(id string) (reminder, missed time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := JobKey{EntityID: id}
	if _, ok := r.jobs[key]; !ok {
		return time.Time{}, time.Time{}, false
	}
	return r.trigger.Next(key.reminderName()), r.trigger.Next(key.missedName()), true
}
