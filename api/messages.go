package api

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/repositories"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type MessageHandler struct {
	messages repositories.IMessageRepository
	log      *slog.Logger
}

func NewMessageHandler(messages repositories.IMessageRepository, log *slog.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, log: log}
}

type messageResponse struct {
	MessageID string        `json:"messageId"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	Status    domain.Status `json:"status"`
}

// Conversation returns the history between two users, timestamp
// ascending. The caller must be one of the two participants.
func (h *MessageHandler) Conversation(c *gin.Context) {
	userID := c.Param("userID")
	recipientID := c.Param("recipientID")

	caller := c.GetString(auth.UserIDKey)
	if caller != userID && caller != recipientID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this conversation"})
		return
	}

	messages, err := h.messages.Conversation(userID, recipientID)
	if err != nil {
		h.log.Error("Failed to fetch conversation", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(messages, func(m domain.Message, _ int) messageResponse {
		return toMessageResponse(m)
	}))
}

// MarkRead is the HTTP variant of the read acknowledgment. It applies
// the same strict delivered -> read transition as the live path; the
// sender learns about it on their next history fetch.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	messageID := c.Param("messageID")

	message, err := h.messages.Get(messageID)
	if err != nil {
		if stderrors.Is(err, errors.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		h.log.Error("Failed to load message", "message_id", messageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update message status"})
		return
	}

	if message.Recipient != c.GetString(auth.UserIDKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the recipient may mark a message read"})
		return
	}

	stored, advanced, err := h.messages.Advance(messageID, domain.StatusRead)
	if err != nil {
		h.log.Error("Failed to persist read status", "message_id", messageID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update message status"})
		return
	}
	if !advanced {
		c.JSON(http.StatusConflict, gin.H{"error": "message is not in delivered state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": toMessageResponse(stored)})
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		MessageID: m.ID,
		From:      m.Sender,
		To:        m.Recipient,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
		Status:    m.Status,
	}
}
