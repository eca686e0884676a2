package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Session binds one authenticated user to one WebSocket connection and
// implements contract.EventSink for the engine. Events are handed over
// through a buffered channel: Consume never blocks an engine handler,
// the write pump drains at the socket's pace.
type Session struct {
	user      domain.Identity
	conn      *websocket.Conn
	log       *slog.Logger
	events    chan event.ServerEvent
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(user domain.Identity, conn *websocket.Conn, log *slog.Logger, bufferSize int) *Session {
	return &Session{
		user:   user,
		conn:   conn,
		log:    log,
		events: make(chan event.ServerEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

func (s *Session) User() domain.Identity { return s.user }

// Consume queues an event for this connection. When the buffer is full
// the event is dropped; a slow client loses pushes rather than stalling
// the senders' handlers.
func (s *Session) Consume(ctx context.Context, e event.ServerEvent) error {
	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Warn("Connection buffer full, dropping event",
			"user_id", s.user.ID, "event", e.EventName())
		return nil
	}
}

// Close tears the connection down. Idempotent; also unblocks the read
// loop and the write pump.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// WritePump serializes queued events onto the socket. It owns all
// writes to the connection; the read loop never writes.
func (s *Session) WritePump(ctx context.Context) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case evt := <-s.events:
			data, err := json.Marshal(evt)
			if err != nil {
				s.log.Error("Failed to marshal event", "event", evt.EventName(), "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(Frame{Event: evt.EventName(), Data: data}); err != nil {
				s.log.Debug("Write failed, closing session", "user_id", s.user.ID, "error", err)
				_ = s.Close()
				return
			}
		}
	}
}
