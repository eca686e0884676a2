package runtime

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/repositories"

	"github.com/google/uuid"
)

// Engine implements the message relay: persist, deliver, replay, and
// the forward-only status machine. Every handler runs to completion on
// the calling connection's goroutine; the presence table and the store
// provide the only synchronization. Failures stay local to the event
// being handled and are reported back to the initiating connection only.
type Engine struct {
	log      *slog.Logger
	presence contract.IPresence
	messages repositories.IMessageRepository
	users    repositories.IUserRepository
	now      func() time.Time
}

func NewEngine(log *slog.Logger, presence contract.IPresence,
	messages repositories.IMessageRepository, users repositories.IUserRepository) *Engine {
	return &Engine{
		log:      log,
		presence: presence,
		messages: messages,
		users:    users,
		now:      time.Now,
	}
}

// Connect admits an authenticated connection: it becomes the user's
// single live channel and everyone else learns the user is online.
// A previous connection of the same user is told it was superseded and
// force-closed, rather than left dangling over a registry entry it no
// longer owns.
func (e *Engine) Connect(ctx context.Context, user domain.Identity, sink contract.EventSink) {
	if prev := e.presence.Register(user.ID, sink); prev != nil {
		e.emit(ctx, prev, event.SessionReplaced{})
		if err := prev.Close(); err != nil {
			e.log.Debug("Failed to close superseded connection", "user_id", user.ID, "error", err)
		}
		e.log.Info("Connection superseded by a newer one", "user_id", user.ID)
	}

	e.broadcast(ctx, user.ID, event.PresenceChanged{UserID: user.ID, Status: event.PresenceOnline})
	e.log.Info("User connected", "user_id", user.ID, "username", user.Username)
}

// Disconnect releases the presence entry and broadcasts "offline", but
// only when the entry still belongs to this connection. A teardown that
// fires after the user already reconnected is ignored entirely.
func (e *Engine) Disconnect(ctx context.Context, user domain.Identity, sink contract.EventSink) {
	if !e.presence.Deregister(user.ID, sink) {
		e.log.Debug("Stale disconnect ignored", "user_id", user.ID)
		return
	}

	e.broadcast(ctx, user.ID, event.PresenceChanged{UserID: user.ID, Status: event.PresenceOffline})
	e.log.Info("User disconnected", "user_id", user.ID, "username", user.Username)
}

// SendMessage accepts a sending intent from the authenticated sender.
// The message is persisted as "sent" first; the sender is acked; then,
// if the recipient is online, the content is pushed to them and the
// status advances to "delivered". An offline recipient leaves the
// message queued in their backlog with no further action.
func (e *Engine) SendMessage(ctx context.Context, sender domain.Identity,
	origin contract.EventSink, cmd domain.SendMessageCommand) {
	id := cmd.MessageID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := e.users.GetByID(cmd.To); err != nil {
		e.log.Warn("Message to unknown recipient rejected",
			"sender", sender.ID, "recipient", cmd.To, "error", err)
		e.emit(ctx, origin, event.MessageError{Error: "unknown recipient"})
		return
	}

	message := domain.Message{
		ID:        id,
		Sender:    sender.ID,
		Recipient: cmd.To,
		Content:   cmd.Content,
		Status:    domain.StatusSent,
		CreatedAt: e.now().UTC(),
	}

	if err := e.messages.Create(message); err != nil {
		if stderrors.Is(err, errors.ErrMessageExists) {
			// Resend with the same idempotency key: re-ack the stored
			// status, never deliver twice.
			e.ackStored(ctx, origin, id)
			return
		}
		e.log.Error("Failed to persist message", "message_id", id, "error", err)
		e.emit(ctx, origin, event.MessageError{Error: "failed to send message"})
		return
	}

	e.emit(ctx, origin, event.MessageStatus{MessageID: id, Status: domain.StatusSent})

	recipientSink, online := e.presence.Lookup(cmd.To)
	if !online {
		e.log.Debug("Recipient offline, message queued",
			"message_id", id, "recipient", cmd.To)
		return
	}

	e.emit(ctx, recipientSink, event.MessageReceived{
		MessageID: id,
		From:      sender.ID,
		To:        cmd.To,
		Content:   cmd.Content,
		Timestamp: message.CreatedAt,
		Status:    domain.StatusDelivered,
	})

	if _, advanced, err := e.messages.Advance(id, domain.StatusDelivered); err != nil || !advanced {
		e.log.Warn("Delivered transition not persisted", "message_id", id, "error", err)
		return
	}

	e.emit(ctx, origin, event.MessageStatus{MessageID: id, Status: domain.StatusDelivered})
}

// ReplayBacklog drains the user's offline backlog after an explicit
// "user_online" signal. Each pending message is promoted to "delivered"
// with a compare-and-set before anything is emitted, so two replays
// racing each other deliver every message exactly once; the loser of
// the race simply skips it.
func (e *Engine) ReplayBacklog(ctx context.Context, user domain.Identity, origin contract.EventSink) {
	pending, err := e.messages.Backlog(user.ID)
	if err != nil {
		e.log.Error("Failed to load backlog", "user_id", user.ID, "error", err)
		e.emit(ctx, origin, event.MessageError{Error: "failed to load pending messages"})
		return
	}

	replayed := 0
	for _, message := range pending {
		stored, advanced, err := e.messages.Advance(message.ID, domain.StatusDelivered)
		if err != nil {
			e.log.Error("Failed to promote pending message", "message_id", message.ID, "error", err)
			continue
		}
		if !advanced {
			continue
		}

		e.emit(ctx, origin, event.MessageReceived{
			MessageID: stored.ID,
			From:      stored.Sender,
			To:        stored.Recipient,
			Content:   stored.Content,
			Timestamp: stored.CreatedAt,
			Status:    domain.StatusDelivered,
		})

		if senderSink, ok := e.presence.Lookup(stored.Sender); ok {
			e.emit(ctx, senderSink, event.MessageStatus{MessageID: stored.ID, Status: domain.StatusDelivered})
		}
		replayed++
	}

	if replayed > 0 {
		e.log.Info("Replayed pending messages", "user_id", user.ID, "count", replayed)
	}
}

// AcknowledgeRead records that the recipient has read a message and
// notifies the original sender when they are online. Only the stored
// recipient may acknowledge, and only a "delivered" message can become
// "read"; anything else is a logged no-op.
func (e *Engine) AcknowledgeRead(ctx context.Context, reader domain.Identity, cmd domain.ReadMessageCommand) {
	message, err := e.messages.Get(cmd.MessageID)
	if err != nil {
		e.log.Warn("Read ack for unknown message", "message_id", cmd.MessageID, "error", err)
		return
	}
	if message.Recipient != reader.ID {
		e.log.Warn("Read ack from non-recipient ignored",
			"message_id", cmd.MessageID, "reader", reader.ID)
		return
	}

	stored, advanced, err := e.messages.Advance(cmd.MessageID, domain.StatusRead)
	if err != nil {
		e.log.Error("Failed to persist read status", "message_id", cmd.MessageID, "error", err)
		return
	}
	if !advanced {
		e.log.Debug("Read ack ignored, message not in delivered state",
			"message_id", cmd.MessageID, "status", stored.Status)
		return
	}

	if senderSink, ok := e.presence.Lookup(stored.Sender); ok {
		e.emit(ctx, senderSink, event.MessageStatus{MessageID: stored.ID, Status: domain.StatusRead})
	}
}

// Typing relays a typing indicator to the recipient's connection.
// Nothing is stored and an offline recipient is a silent no-op; clients
// expire the indicator themselves when no stop follows.
func (e *Engine) Typing(ctx context.Context, from domain.Identity, to string, typing bool) {
	sink, ok := e.presence.Lookup(to)
	if !ok {
		return
	}
	e.emit(ctx, sink, event.Typing{UserID: from.ID, Username: from.Username, Typing: typing})
}

// ackStored re-sends the currently persisted status for a duplicate send.
func (e *Engine) ackStored(ctx context.Context, origin contract.EventSink, id string) {
	stored, err := e.messages.Get(id)
	if err != nil {
		e.log.Error("Failed to load duplicate message", "message_id", id, "error", err)
		e.emit(ctx, origin, event.MessageError{Error: "failed to send message"})
		return
	}
	e.log.Debug("Duplicate send re-acked", "message_id", id, "status", stored.Status)
	e.emit(ctx, origin, event.MessageStatus{MessageID: id, Status: stored.Status})
}

func (e *Engine) broadcast(ctx context.Context, aboutUserID string, evt event.ServerEvent) {
	for _, sink := range e.presence.Others(aboutUserID) {
		e.emit(ctx, sink, evt)
	}
}

// emit pushes an event to a sink best effort. Sinks never block; a full
// or closed connection drops the event and the relay moves on.
func (e *Engine) emit(ctx context.Context, sink contract.EventSink, evt event.ServerEvent) {
	if err := sink.Consume(ctx, evt); err != nil {
		e.log.Warn("Event not consumed", "event", evt.EventName(), "error", err)
	}
}
