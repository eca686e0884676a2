// Package api exposes the HTTP surface around the relay: account
// endpoints, the user directory, and message history. The live event
// protocol itself lives in transport.
package api

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/auth"
	"chat-relay/errors"
	"chat-relay/repositories"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

type AuthHandler struct {
	users    repositories.IUserRepository
	log      *slog.Logger
	tokenTTL time.Duration
}

func NewAuthHandler(users repositories.IUserRepository, log *slog.Logger, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{users: users, log: log, tokenTTL: tokenTTL}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Register creates an account. Business rules are checked before the
// expensive hash; the password is stored as an Argon2id digest only.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := auth.ValidateRegister(auth.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("Password hashing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	user, err := h.users.Create(req.Username, req.Email, hashedPassword)
	if err != nil {
		if stderrors.Is(err, errors.ErrUserAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "user already exists"})
			return
		}
		h.log.Error("Failed to persist user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(user)})
}

// Login verifies credentials and issues the bearer token used by both
// the HTTP endpoints and the WebSocket gatekeeper. Failures are
// reported uniformly to prevent user enumeration.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := h.users.GetByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
		return
	}

	match, err := auth.ComparePassword(req.Password, user.PasswordHash)
	if err != nil || !match {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, h.tokenTTL)
	if err != nil {
		h.log.Error("Token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":    token,
		"userId":   user.ID,
		"username": user.Username,
	})
}

// Users returns the contact directory clients pick recipients from.
func (h *AuthHandler) Users(c *gin.Context) {
	users, err := h.users.List()
	if err != nil {
		h.log.Error("Failed to list users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
		return
	}

	c.JSON(http.StatusOK, lo.Map(users, func(u repositories.User, _ int) userResponse {
		return toUserResponse(u)
	}))
}

func toUserResponse(u repositories.User) userResponse {
	return userResponse{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
}
