package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"emberon/internal/domain"
	"emberon/internal/eventbus"
	"emberon/internal/storage"
	logx "emberon/pkg/logx"
)

// SweepResult summarizes one reset sweep.
type SweepResult struct {
	Day     int
	Scanned int
	Reset   int
	Failed  int
}

// ResetSweep returns today's missed (and optionally taken) supplements to
// pending while their scheduled time is still ahead.
type ResetSweep struct {
	repo       Repository
	log        logx.Logger
	bus        eventbus.Bus
	now        func() time.Time
	loc        *time.Location
	resetTaken bool
}

func NewResetSweep(repo Repository, loc *time.Location, resetTaken bool, now func() time.Time, log logx.Logger, bus eventbus.Bus) *ResetSweep {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &ResetSweep{repo: repo, log: log, bus: bus, now: now, loc: loc, resetTaken: resetTaken}
}

// Run performs one sweep. Only a failed listing is returned as an error;
// per-supplement failures are counted and logged.
func (r *ResetSweep) Run(ctx context.Context) (SweepResult, error) {
	now := r.now().In(r.loc)
	res := SweepResult{Day: int(now.Weekday())}

	statuses := []domain.Status{domain.StatusMissed}
	if r.resetTaken {
		statuses = append(statuses, domain.StatusTaken)
	}
	list, err := r.repo.FindSupplements(ctx, storage.Filter{Day: storage.DayFilter(res.Day), Statuses: statuses})
	if err != nil {
		return res, fmt.Errorf("reset sweep: list: %w", err)
	}
	res.Scanned = len(list)

	nowMinute := now.Hour()*60 + now.Minute()
	for _, s := range list {
		h, m, err := domain.ParseClock(s.Time)
		if err != nil {
			res.Failed++
			r.log.Warn("reset sweep: bad time", logx.String("supplement", s.ID), logx.Err(err))
			continue
		}
		if h*60+m <= nowMinute {
			continue
		}
		// Stamped with the sweep time: a reminder due within the dispatcher's
		// debounce window after the sweep is skipped.
		_, err = r.repo.UpdateSupplement(ctx, s.ID, domain.StatusPatch(domain.StatusPending, r.now()))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			res.Failed++
			r.log.Warn("reset sweep: update failed", logx.String("supplement", s.ID), logx.Err(err))
			continue
		}
		res.Reset++
		r.log.Debug("supplement reset to pending", logx.String("supplement", s.ID), logx.String("was", string(s.Status)))
	}

	r.log.Info("reset sweep done",
		logx.Int("day", res.Day),
		logx.Int("scanned", res.Scanned),
		logx.Int("reset", res.Reset),
		logx.Int("failed", res.Failed),
	)
	eventbus.Publish(r.bus, eventbus.TypeResetApplied, res)
	return res, nil
}
