// Package timerule turns a weekly (day-of-week, time-of-day, timezone) slot into
// recurring cron rules and concrete fire instants.
//
// Everything here is pure: no timers are created and no state is kept.
package timerule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"emberon/internal/domain"
)

// MissedAfter is the fixed grace window between a reminder and its missed check.
const MissedAfter = time.Hour

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Parser is shared by every component that turns a Rule into a cron entry.
// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Rule is a weekly recurrence at a local wall-clock time. Second is always 0.
// The zero value is not a valid rule; build one with NewRule or RuleFor.
type Rule struct {
	day    int
	hour   int
	minute int
	loc    *time.Location
}

func NewRule(day, hour, minute int, loc *time.Location) (Rule, error) {
	if day < 0 || day > 6 {
		return Rule{}, fmt.Errorf("%w: day %d out of range 0-6", ErrInvalidRule, day)
	}
	if hour < 0 || hour > 23 {
		return Rule{}, fmt.Errorf("%w: hour %d out of range 0-23", ErrInvalidRule, hour)
	}
	if minute < 0 || minute > 59 {
		return Rule{}, fmt.Errorf("%w: minute %d out of range 0-59", ErrInvalidRule, minute)
	}
	if loc == nil {
		return Rule{}, fmt.Errorf("%w: timezone required", ErrInvalidRule)
	}
	return Rule{day: day, hour: hour, minute: minute, loc: loc}, nil
}

// RuleFor builds the reminder rule for a supplement's day and "HH:MM" time.
func RuleFor(day int, hhmm string, loc *time.Location) (Rule, error) {
	h, m, err := domain.ParseClock(hhmm)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return NewRule(day, h, m, loc)
}

func (r Rule) Day() int                 { return r.day }
func (r Rule) Hour() int                { return r.hour }
func (r Rule) Minute() int              { return r.minute }
func (r Rule) Location() *time.Location { return r.loc }
func (r Rule) IsZero() bool             { return r.loc == nil }

// Clock renders the rule's local time as "HH:MM".
func (r Rule) Clock() string { return domain.FormatClock(r.hour, r.minute) }

// Missed returns the rule firing MissedAfter later, rolling over to the next
// weekday when the hour wraps past midnight (Saturday wraps to Sunday).
func (r Rule) Missed() Rule {
	h := r.hour + int(MissedAfter/time.Hour)
	d := r.day
	if h >= 24 {
		h -= 24
		d = (d + 1) % 7
	}
	return Rule{day: d, hour: h, minute: r.minute, loc: r.loc}
}

// Spec renders the rule as a robfig/cron spec with an explicit CRON_TZ so the
// entry keeps firing at the same local wall-clock time across DST changes.
func (r Rule) Spec() string {
	return fmt.Sprintf("CRON_TZ=%s 0 %d %d * * %d", r.zoneName(), r.minute, r.hour, r.day)
}

func (r Rule) zoneName() string {
	if r.loc == nil {
		return "UTC"
	}
	return r.loc.String()
}

// Schedule parses Spec into a cron.Schedule.
func (r Rule) Schedule() (cron.Schedule, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("%w: zero rule", ErrInvalidRule)
	}
	s, err := Parser.Parse(r.Spec())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return s, nil
}

// Next returns the first fire instant strictly after now.
func (r Rule) Next(now time.Time) (time.Time, error) {
	s, err := r.Schedule()
	if err != nil {
		return time.Time{}, err
	}
	next := s.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: no future occurrence for %s", ErrInvalidRule, r)
	}
	return next, nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s %s", time.Weekday(r.day), r.Clock(), r.zoneName())
}

// Slot is the structured identity of one cron entry for one entity. Two entries
// with equal slots would fire the same callback at the same instant.
type Slot struct {
	EntityID string
	Day      int
	Hour     int
	Minute   int
}

func (r Rule) Slot(entityID string) Slot {
	return Slot{EntityID: entityID, Day: r.day, Hour: r.hour, Minute: r.minute}
}

// ComputeNextFire returns the next reminder instant after referenceNow.
func ComputeNextFire(day, hour, minute int, loc *time.Location, referenceNow time.Time) (time.Time, error) {
	r, err := NewRule(day, hour, minute, loc)
	if err != nil {
		return time.Time{}, err
	}
	return r.Next(referenceNow)
}

// ComputeMissedFire returns the next missed-check instant after referenceNow
// for a reminder at day/hour/minute.
func ComputeMissedFire(day, hour, minute int, loc *time.Location, referenceNow time.Time) (time.Time, error) {
	r, err := NewRule(day, hour, minute, loc)
	if err != nil {
		return time.Time{}, err
	}
	return r.Missed().Next(referenceNow)
}

// LoadLocation resolves an IANA name, treating "" and "Local" as time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
