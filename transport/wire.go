// Package transport carries the relay's event protocol over WebSocket.
// Every frame is a JSON envelope {"event": name, "data": payload}; the
// payload shapes below are the client-to-server half, the server half
// lives in domain/event.
package transport

import "encoding/json"

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EventSendMessage = "send_message"
	EventMessageRead = "message_read"
	EventUserOnline  = "user_online"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
)

type sendMessagePayload struct {
	To        string `json:"to"`
	Content   string `json:"content"`
	MessageID string `json:"messageId,omitempty"`
}

type messageReadPayload struct {
	MessageID string `json:"messageId"`
	// From is advisory client state; the sender to notify is always
	// resolved from the stored message.
	From string `json:"from,omitempty"`
}

type typingPayload struct {
	To string `json:"to"`
}
