package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"emberon/internal/domain"
	"emberon/internal/eventbus"
	"emberon/internal/notifier"
	"emberon/internal/storage"
	logx "emberon/pkg/logx"
)

// DefaultDebounce suppresses a reminder when the supplement was refreshed this recently.
const DefaultDebounce = 5 * time.Minute

// Repository is the persistence the scheduler core reads and writes.
type Repository interface {
	FindSupplement(ctx context.Context, id string) (domain.Supplement, bool, error)
	FindSupplements(ctx context.Context, f storage.Filter) ([]domain.Supplement, error)
	UpdateSupplement(ctx context.Context, id string, p domain.Patch) (domain.Supplement, error)
	FindOwner(ctx context.Context, id string) (domain.Owner, bool, error)
}

// Sender delivers a push to an owner and reports success. It never errors.
type Sender interface {
	Send(ctx context.Context, ownerID string, msg notifier.Message) bool
}

// FireEvent is published for reminder and missed fires.
type FireEvent struct {
	SupplementID string    `json:"supplement_id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name"`
	At           time.Time `json:"at"`
	Delivered    bool      `json:"delivered"`
	Reason       string    `json:"reason,omitempty"`
}

// Dispatcher holds the fire callbacks. Each call re-reads the supplement.
type Dispatcher struct {
	repo     Repository
	sender   Sender
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
	debounce atomic.Int64
}

func NewDispatcher(repo Repository, sender Sender, debounce time.Duration, now func() time.Time, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	d := &Dispatcher{repo: repo, sender: sender, log: log, bus: bus, now: now}
	d.debounce.Store(int64(debounce))
	return d
}

// SetDebounce changes the window for later fires. Non-positive values select DefaultDebounce.
func (d *Dispatcher) SetDebounce(v time.Duration) {
	if v <= 0 {
		v = DefaultDebounce
	}
	d.debounce.Store(int64(v))
}

func (d *Dispatcher) Debounce() time.Duration { return time.Duration(d.debounce.Load()) }

func ReminderMessage(s domain.Supplement) notifier.Message {
	return notifier.Message{
		Title:        "EMBER ON",
		Body:         fmt.Sprintf("Have you taken your %s supplement yet? Don't forget to mark as taken at %s.", s.Name, clockOf(s)),
		Type:         notifier.TypeReminder,
		SupplementID: s.ID,
	}
}

func MissedMessage(s domain.Supplement) notifier.Message {
	return notifier.Message{
		Title:        "Missed Supplement",
		Body:         fmt.Sprintf("You missed your %s supplement", s.Name),
		Type:         notifier.TypeMissed,
		SupplementID: s.ID,
	}
}

func clockOf(s domain.Supplement) string {
	h, m, err := domain.ParseClock(s.Time)
	if err != nil {
		return s.Time
	}
	return domain.FormatClock(h, m)
}

// Reminder refreshes the supplement to pending and asks the owner whether it
// was taken. Repository errors are returned; push failures are only logged.
func (d *Dispatcher) Reminder(ctx context.Context, id string) error {
	log := d.log.With(logx.String("supplement", id), logx.String("fire", "reminder"))
	s, ok, err := d.repo.FindSupplement(ctx, id)
	if err != nil {
		return fmt.Errorf("reminder %s: load: %w", id, err)
	}
	if !ok {
		log.Debug("supplement gone; reminder ignored")
		return nil
	}

	// The reset sweep stamps LastStatusUpdate too, so a reminder due within
	// the window after the sweep is suppressed like any other recent refresh.
	now := d.now()
	if s.Status == domain.StatusPending && !s.LastStatusUpdate.IsZero() && now.Sub(s.LastStatusUpdate) < d.Debounce() {
		log.Info("reminder debounced", logx.Time("last_status_update", s.LastStatusUpdate))
		eventbus.Publish(d.bus, eventbus.TypeReminderSkipped, FireEvent{SupplementID: id, OwnerID: s.OwnerID, Name: s.Name, At: now, Reason: "debounce"})
		return nil
	}

	s, err = d.repo.UpdateSupplement(ctx, id, domain.StatusPatch(domain.StatusPending, now))
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("supplement gone; reminder ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reminder %s: update: %w", id, err)
	}

	delivered := d.send(ctx, s.OwnerID, ReminderMessage(s))
	log.Info("reminder fired", logx.String("owner", s.OwnerID), logx.Bool("delivered", delivered))
	eventbus.Publish(d.bus, eventbus.TypeReminderSent, FireEvent{SupplementID: id, OwnerID: s.OwnerID, Name: s.Name, At: now, Delivered: delivered})
	return nil
}

// Missed marks a still-pending supplement as missed and tells the owner.
// Taken or already-missed supplements are left alone.
func (d *Dispatcher) Missed(ctx context.Context, id string) error {
	log := d.log.With(logx.String("supplement", id), logx.String("fire", "missed"))
	s, ok, err := d.repo.FindSupplement(ctx, id)
	if err != nil {
		return fmt.Errorf("missed %s: load: %w", id, err)
	}
	if !ok {
		log.Debug("supplement gone; missed check ignored")
		return nil
	}
	if s.Status != domain.StatusPending {
		log.Debug("missed check no-op", logx.String("status", string(s.Status)))
		return nil
	}

	now := d.now()
	s, err = d.repo.UpdateSupplement(ctx, id, domain.StatusPatch(domain.StatusMissed, now))
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("supplement gone; missed check ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("missed %s: update: %w", id, err)
	}

	delivered := d.send(ctx, s.OwnerID, MissedMessage(s))
	log.Info("supplement missed", logx.String("owner", s.OwnerID), logx.Bool("delivered", delivered))
	eventbus.Publish(d.bus, eventbus.TypeSupplementMiss, FireEvent{SupplementID: id, OwnerID: s.OwnerID, Name: s.Name, At: now, Delivered: delivered})
	return nil
}

func (d *Dispatcher) send(ctx context.Context, ownerID string, msg notifier.Message) bool {
	if d.sender == nil {
		return false
	}
	return d.sender.Send(ctx, ownerID, msg)
}
