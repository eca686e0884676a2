// Package domain contains core concepts of the message relay.
// Messages are immutable once created; only their status moves,
// and only forward through sent -> delivered -> read.
package domain

import (
	"time"
)

type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses along the delivery chain. Unknown statuses rank
// below "sent" so they can never be a valid transition target.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// CanAdvance reports whether a message may move from s to next.
// Only single forward steps are allowed: a message cannot regress and
// cannot jump from sent straight to read.
func (s Status) CanAdvance(next Status) bool {
	return next.Rank() == s.Rank()+1
}

// Message is a direct message between two users. The ID doubles as the
// client-side idempotency key: resending with the same ID is a no-op.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the authenticated user bound to a connection.
// It comes from the verified bearer token, never from a payload.
type Identity struct {
	ID       string
	Username string
}
