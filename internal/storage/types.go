package storage

import (
	"context"
	"errors"
	"time"

	"emberon/internal/domain"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process maps, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Filter narrows FindSupplements. Zero fields match everything.
type Filter struct {
	Day      *int
	Statuses []domain.Status
	OwnerID  string

	// WithOwner loads Supplement.Owner. Supplements whose owner row is gone
	// come back with Owner == nil.
	WithOwner bool
}

func DayFilter(day int) *int { return &day }

func (f Filter) matches(s domain.Supplement) bool {
	if f.Day != nil && s.Day != *f.Day {
		return false
	}
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// Notification is one persisted push attempt.
type Notification struct {
	ID           string
	OwnerID      string
	Title        string
	Body         string
	Type         string
	SupplementID string
	Data         map[string]string
	SentAt       time.Time
	Delivered    bool
}

// Store is the persistence API used by the scheduler core and the notifier.
type Store interface {
	FindSupplement(ctx context.Context, id string) (domain.Supplement, bool, error)
	FindSupplements(ctx context.Context, f Filter) ([]domain.Supplement, error)
	// UpdateSupplement applies p and returns the updated row, or ErrNotFound.
	UpdateSupplement(ctx context.Context, id string, p domain.Patch) (domain.Supplement, error)
	PutSupplement(ctx context.Context, s domain.Supplement) error
	DeleteSupplement(ctx context.Context, id string) (bool, error)

	FindOwner(ctx context.Context, id string) (domain.Owner, bool, error)
	PutOwner(ctx context.Context, o domain.Owner) error

	// AppendNotification stores n and returns its ID (generated when empty).
	AppendNotification(ctx context.Context, n Notification) (string, error)
	ListNotifications(ctx context.Context, ownerID string, limit int) ([]Notification, error)

	Close() error
}
