package notifier

import "time"

// Push types carried in Message.Type and the "type" data key.
const (
	TypeReminder = "SUPPLEMENT_REMINDER"
	TypeMissed   = "SUPPLEMENT_MISSED"
	TypeTest     = "TEST"
)

// Config controls push delivery.
type Config struct {
	Enabled         bool
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// Timezone is stamped into every push's metadata.
	Timezone string
}

// Message is what the scheduler asks to deliver to an owner.
type Message struct {
	Title        string
	Body         string
	Type         string
	SupplementID string
	Data         map[string]string
}

type HistoryItem struct {
	At        time.Time
	OwnerID   string
	Type      string
	Title     string
	Delivered bool
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	OwnerID string    `json:"owner_id"`
	ChatID  int64     `json:"chat_id"`
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}
