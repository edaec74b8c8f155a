package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTaken, StatusMissed:
		return true
	default:
		return false
	}
}

// Owner is the delivery identity a supplement notifies.
type Owner struct {
	ID            string
	Name          string
	ChatID        int64 // push address; 0 means "no device registered"
	PushEnabled   bool
	MissedEnabled bool
}

// Supplement is a weekly reminder slot owned by one user.
type Supplement struct {
	ID               string
	OwnerID          string
	Name             string
	Form             string
	Reason           string
	Day              int    // 0-6, Sunday=0
	Time             string // "HH:MM", 24h, local to the scheduler timezone
	Status           Status
	LastStatusUpdate time.Time // zero means never updated
	CreatedAt        time.Time

	// Owner is populated only when the repository was asked to load the relation.
	Owner *Owner
}

// DedupKey identifies "same user, same supplement, same slot".
type DedupKey struct {
	OwnerID string
	Name    string
	Day     int
	Time    string
}

func (s Supplement) DedupKey() DedupKey {
	return DedupKey{OwnerID: s.OwnerID, Name: s.Name, Day: s.Day, Time: s.Time}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status           *Status
	LastStatusUpdate *time.Time
}

// StatusPatch builds the patch the scheduler uses for every transition.
func StatusPatch(st Status, at time.Time) Patch {
	return Patch{Status: &st, LastStatusUpdate: &at}
}

func (p Patch) Apply(s *Supplement) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.LastStatusUpdate != nil {
		s.LastStatusUpdate = *p.LastStatusUpdate
	}
}

var reClock = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ParseClock parses a strict "HH:MM" 24-hour string.
func ParseClock(v string) (hour, minute int, err error) {
	m := reClock.FindStringSubmatch(v)
	if m == nil {
		return 0, 0, fmt.Errorf("%q is not a valid time format, use HH:MM (24-hour)", v)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// FormatClock renders hour/minute as zero-padded "HH:MM".
func FormatClock(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// Validate checks the fields the scheduler relies on.
func (s Supplement) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("supplement id required")
	}
	if s.OwnerID == "" {
		return fmt.Errorf("supplement %s: owner required", s.ID)
	}
	if s.Day < 0 || s.Day > 6 {
		return fmt.Errorf("supplement %s: day %d out of range 0-6", s.ID, s.Day)
	}
	if _, _, err := ParseClock(s.Time); err != nil {
		return fmt.Errorf("supplement %s: %w", s.ID, err)
	}
	if s.Status != "" && !s.Status.Valid() {
		return fmt.Errorf("supplement %s: unknown status %q", s.ID, s.Status)
	}
	return nil
}
