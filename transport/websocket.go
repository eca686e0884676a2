package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/runtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // origin checking belongs to the deployment's proxy
	},
}

// Handler is the connection gatekeeper: it verifies the bearer token
// before upgrading, binds the decoded identity to the session, and runs
// the per-connection event loop against the engine.
type Handler struct {
	engine     *runtime.Engine
	log        *slog.Logger
	bufferSize int
}

func NewHandler(engine *runtime.Engine, log *slog.Logger, bufferSize int) *Handler {
	return &Handler{engine: engine, log: log, bufferSize: bufferSize}
}

// Handle authenticates and serves one WebSocket connection. The request
// goroutine becomes the read loop; inbound frames are handled one at a
// time, to completion, before the next is read.
func (h *Handler) Handle(c *gin.Context) {
	claims, err := auth.ValidateToken(bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}
	user := domain.Identity{ID: claims.UserID, Username: claims.Username}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "user_id", user.ID, "error", err)
		return
	}

	ctx := c.Request.Context()
	session := NewSession(user, conn, h.log, h.bufferSize)

	h.engine.Connect(ctx, user, session)
	go session.WritePump(ctx)

	defer func() {
		h.engine.Disconnect(ctx, user, session)
		_ = session.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			h.log.Debug("Connection closed", "user_id", user.ID, "error", err)
			return
		}
		h.dispatch(ctx, session, frame)
	}
}

// dispatch maps one inbound frame to one engine operation.
func (h *Handler) dispatch(ctx context.Context, s *Session, frame Frame) {
	user := s.User()

	switch frame.Event {
	case EventSendMessage:
		var p sendMessagePayload
		if !h.decode(ctx, s, frame, &p) {
			return
		}
		h.engine.SendMessage(ctx, user, s, domain.SendMessageCommand{
			To:        p.To,
			Content:   p.Content,
			MessageID: p.MessageID,
		})

	case EventMessageRead:
		var p messageReadPayload
		if !h.decode(ctx, s, frame, &p) {
			return
		}
		h.engine.AcknowledgeRead(ctx, user, domain.ReadMessageCommand{MessageID: p.MessageID})

	case EventUserOnline:
		h.engine.ReplayBacklog(ctx, user, s)

	case EventTypingStart:
		var p typingPayload
		if !h.decode(ctx, s, frame, &p) {
			return
		}
		h.engine.Typing(ctx, user, p.To, true)

	case EventTypingStop:
		var p typingPayload
		if !h.decode(ctx, s, frame, &p) {
			return
		}
		h.engine.Typing(ctx, user, p.To, false)

	default:
		h.log.Warn("Unknown event ignored", "event", frame.Event, "user_id", user.ID)
	}
}

func (h *Handler) decode(ctx context.Context, s *Session, frame Frame, out any) bool {
	if err := json.Unmarshal(frame.Data, out); err != nil {
		h.log.Warn("Malformed payload", "event", frame.Event, "user_id", s.User().ID, "error", err)
		_ = s.Consume(ctx, event.MessageError{Error: "malformed payload"})
		return false
	}
	return true
}

// bearerToken accepts the credential either as a query parameter, which
// browser WebSocket clients are limited to, or as a standard header.
func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}
