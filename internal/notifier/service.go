package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"emberon/internal/domain"
	"emberon/internal/eventbus"
	"emberon/internal/storage"
	"emberon/internal/transport"
	logx "emberon/pkg/logx"
)

var ErrDisabled = errors.New("notifier disabled")

// Store is the subset of storage the notifier needs.
type Store interface {
	FindOwner(ctx context.Context, id string) (domain.Owner, bool, error)
	AppendNotification(ctx context.Context, n storage.Notification) (string, error)
}

// Service delivers pushes synchronously: owner lookup, rate limit, retry,
// record. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	transport transport.Transport
	bus       eventbus.Bus
	store     Store
	now       func() time.Time

	cfg     Config
	limiter *rate.Limiter

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, tr transport.Transport, store Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if tr == nil {
		tr = transport.NewLog(log)
	}
	s := &Service{
		transport: tr,
		log:       log,
		bus:       bus,
		store:     store,
		now:       time.Now,
		dedup:     map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/London"
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send pushes msg to ownerID and reports whether it was delivered.
func (s *Service) Send(ctx context.Context, ownerID string, msg Message) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	log := s.log.With(logx.String("owner", ownerID), logx.String("type", msg.Type))
	if !cfg.Enabled {
		log.Debug("push skipped", logx.Err(ErrDisabled))
		return false
	}
	if s.store == nil {
		log.Warn("push skipped: no owner store")
		return false
	}

	owner, ok, err := s.store.FindOwner(ctx, ownerID)
	if err != nil {
		log.Warn("push skipped: owner lookup failed", logx.Err(err))
		return false
	}
	if !ok {
		log.Debug("push skipped: owner not found")
		return false
	}
	if !owner.PushEnabled {
		log.Debug("push skipped: disabled by owner")
		return false
	}
	if owner.ChatID == 0 {
		log.Debug("push skipped: no delivery address")
		return false
	}
	if msg.Type == TypeMissed && !owner.MissedEnabled {
		log.Debug("push skipped: missed alerts disabled by owner")
		return false
	}

	key := dedupKey(ownerID, msg)
	if cfg.DedupWindow > 0 && !s.dedupAllow(key, cfg.DedupWindow, cfg.DedupMaxEntries) {
		log.Debug("push deduped", logx.String("key", key))
		return false
	}

	sentAt := s.now()
	d := transport.Delivery{
		ChatID: owner.ChatID,
		Title:  msg.Title,
		Body:   msg.Body,
		Data:   s.metadata(msg, sentAt, cfg.Timezone),
	}

	err = s.sendWithRetry(ctx, cfg, d)
	delivered := err == nil
	s.record(ctx, ownerID, msg, d, sentAt, delivered)
	s.appendHistory(HistoryItem{At: sentAt, OwnerID: ownerID, Type: msg.Type, Title: msg.Title, Delivered: delivered})

	ev := NotificationEvent{OwnerID: ownerID, ChatID: owner.ChatID, Type: msg.Type, Key: key, At: sentAt}
	if err != nil {
		ev.Error = err.Error()
		log.Warn("push failed", logx.Err(err), logx.String("transport", s.transport.Name()))
		eventbus.Publish(s.bus, eventbus.TypeNotifyFailed, ev)
		return false
	}
	log.Info("push sent", logx.String("title", msg.Title), logx.String("transport", s.transport.Name()))
	eventbus.Publish(s.bus, eventbus.TypeNotifySent, ev)
	return true
}

// SendTest sends a fixed message so an owner can verify their device setup.
func (s *Service) SendTest(ctx context.Context, ownerID string) bool {
	return s.Send(ctx, ownerID, Message{
		Title: "Test Notification",
		Body:  "This is a test notification to verify your device is properly configured",
		Type:  TypeTest,
	})
}

// metadata stringifies msg.Data and stamps it with type, sentAt and timezone.
func (s *Service) metadata(msg Message, sentAt time.Time, tz string) map[string]string {
	data := make(map[string]string, len(msg.Data)+4)
	maps.Copy(data, msg.Data)
	if msg.SupplementID != "" {
		data["supplementId"] = msg.SupplementID
	}
	if msg.Type != "" {
		data["type"] = msg.Type
	}
	data["sentAt"] = sentAt.UTC().Format(time.RFC3339)
	data["timezone"] = tz
	return data
}

func (s *Service) record(ctx context.Context, ownerID string, msg Message, d transport.Delivery, sentAt time.Time, delivered bool) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_, err := s.store.AppendNotification(rctx, storage.Notification{
		OwnerID:      ownerID,
		Title:        msg.Title,
		Body:         msg.Body,
		Type:         msg.Type,
		SupplementID: msg.SupplementID,
		Data:         d.Data,
		SentAt:       sentAt,
		Delivered:    delivered,
	})
	if err != nil {
		s.log.Warn("notification record failed", logx.String("owner", ownerID), logx.Err(err))
	}
}

func (s *Service) sendWithRetry(ctx context.Context, cfg Config, d transport.Delivery) error {
	s.mu.Lock()
	lim := s.limiter
	tr := s.transport
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		// Bound per-send call. Keep tight to avoid hanging the fire.
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := tr.Send(callCtx, d)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, transport.ErrNoAddress) {
			return err
		}
		s.log.Debug("push send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempt(s): %w", maxAttempts, lastErr)
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func dedupKey(ownerID string, msg Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ownerID))
	_, _ = h.Write([]byte("|" + msg.Type + "|" + msg.SupplementID + "|"))
	_, _ = h.Write([]byte(msg.Title + "\n" + msg.Body))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := s.now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
