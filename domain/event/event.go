// Package event defines the server-to-client events pushed over a live
// connection. Field names match the wire protocol consumed by clients.
package event

import (
	"chat-relay/domain"
	"time"
)

type ServerEvent interface {
	EventName() string
}

// MessageReceived delivers message content to its recipient.
type MessageReceived struct {
	MessageID string        `json:"messageId"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    domain.Status `json:"status"`
}

func (MessageReceived) EventName() string { return "receive_message" }

// MessageStatus notifies a sender that one of their messages advanced.
type MessageStatus struct {
	MessageID string        `json:"messageId"`
	Status    domain.Status `json:"status"`
}

func (MessageStatus) EventName() string { return "message_status" }

// PresenceChanged announces that a user went online or offline.
type PresenceChanged struct {
	UserID string `json:"userId"`
	Status string `json:"status"` // "online" | "offline"
}

func (PresenceChanged) EventName() string { return "user_status_change" }

// Typing relays a typing indicator to the recipient.
type Typing struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

func (Typing) EventName() string { return "user_typing" }

// MessageError reports a failed send back to the initiating connection.
type MessageError struct {
	Error string `json:"error"`
}

func (MessageError) EventName() string { return "message_error" }

// SessionReplaced tells a superseded connection that the same user
// reconnected elsewhere and this connection is about to be closed.
type SessionReplaced struct{}

func (SessionReplaced) EventName() string { return "session_replaced" }

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)
