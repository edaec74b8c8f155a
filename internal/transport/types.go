package transport

import (
	"context"
	"errors"
)

// ErrNoAddress is returned when a delivery has no chat to send to.
var ErrNoAddress = errors.New("transport: no delivery address")

// Delivery is one rendered push to a single owner.
type Delivery struct {
	ChatID int64
	Title  string
	Body   string
	// Data carries the stringified metadata (supplementId, type, sentAt, timezone).
	Data map[string]string
}

// MessageRef identifies a delivered message on the remote side (0 when unknown).
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Transport delivers pushes. Implementations must be safe for concurrent use.
type Transport interface {
	Name() string
	Send(ctx context.Context, d Delivery) (MessageRef, error)
}
