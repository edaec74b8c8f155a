package storage

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"emberon/internal/domain"
)

// Memory is a process-local Store. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	closed bool
	seq    uint64

	supplements map[string]memSupplement
	owners      map[string]domain.Owner
	notes       []Notification

	failNext map[string]error // method name -> one-shot error
}

type memSupplement struct {
	seq uint64
	s   domain.Supplement
}

func NewMemory() *Memory {
	return &Memory{
		supplements: map[string]memSupplement{},
		owners:      map[string]domain.Owner{},
		failNext:    map[string]error{},
	}
}

// FailNext makes the next call to method (e.g. "UpdateSupplement") fail with err.
func (m *Memory) FailNext(method string, err error) {
	m.mu.Lock()
	m.failNext[method] = err
	m.mu.Unlock()
}

func (m *Memory) checkLocked(method string) error {
	if m.closed {
		return ErrClosed
	}
	if err, ok := m.failNext[method]; ok {
		delete(m.failNext, method)
		return err
	}
	return nil
}

func (m *Memory) FindSupplement(ctx context.Context, id string) (domain.Supplement, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("FindSupplement"); err != nil {
		return domain.Supplement{}, false, err
	}
	e, ok := m.supplements[id]
	if !ok {
		return domain.Supplement{}, false, nil
	}
	return e.s, true, nil
}

func (m *Memory) FindSupplements(ctx context.Context, f Filter) ([]domain.Supplement, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("FindSupplements"); err != nil {
		return nil, err
	}
	list := make([]memSupplement, 0, len(m.supplements))
	for _, e := range m.supplements {
		if f.matches(e.s) {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].s.CreatedAt, list[j].s.CreatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return list[i].seq < list[j].seq
	})

	out := make([]domain.Supplement, 0, len(list))
	for _, e := range list {
		s := e.s
		if f.WithOwner {
			if o, ok := m.owners[s.OwnerID]; ok {
				s.Owner = &o
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) UpdateSupplement(ctx context.Context, id string, p domain.Patch) (domain.Supplement, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("UpdateSupplement"); err != nil {
		return domain.Supplement{}, err
	}
	e, ok := m.supplements[id]
	if !ok {
		return domain.Supplement{}, ErrNotFound
	}
	p.Apply(&e.s)
	m.supplements[id] = e
	return e.s, nil
}

func (m *Memory) PutSupplement(ctx context.Context, s domain.Supplement) error {
	_ = ctx
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("PutSupplement"); err != nil {
		return err
	}
	if s.Status == "" {
		s.Status = domain.StatusPending
	}
	s.Owner = nil
	prev, ok := m.supplements[s.ID]
	if ok {
		s.CreatedAt = prev.s.CreatedAt
		m.supplements[s.ID] = memSupplement{seq: prev.seq, s: s}
		return nil
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.seq++
	m.supplements[s.ID] = memSupplement{seq: m.seq, s: s}
	return nil
}

func (m *Memory) DeleteSupplement(ctx context.Context, id string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("DeleteSupplement"); err != nil {
		return false, err
	}
	_, ok := m.supplements[id]
	delete(m.supplements, id)
	return ok, nil
}

func (m *Memory) FindOwner(ctx context.Context, id string) (domain.Owner, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("FindOwner"); err != nil {
		return domain.Owner{}, false, err
	}
	o, ok := m.owners[id]
	return o, ok, nil
}

func (m *Memory) PutOwner(ctx context.Context, o domain.Owner) error {
	_ = ctx
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("owner id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("PutOwner"); err != nil {
		return err
	}
	m.owners[o.ID] = o
	return nil
}

// DeleteOwner removes an owner and leaves its supplements in place.
func (m *Memory) DeleteOwner(id string) {
	m.mu.Lock()
	delete(m.owners, id)
	m.mu.Unlock()
}

func (m *Memory) AppendNotification(ctx context.Context, n Notification) (string, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("AppendNotification"); err != nil {
		return "", err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}
	if n.Data != nil {
		n.Data = maps.Clone(n.Data)
	}
	m.notes = append(m.notes, n)
	return n.ID, nil
}

func (m *Memory) ListNotifications(ctx context.Context, ownerID string, limit int) ([]Notification, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLocked("ListNotifications"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	var out []Notification
	for i := len(m.notes) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notes[i].OwnerID == ownerID {
			out = append(out, m.notes[i])
		}
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
