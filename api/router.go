package api

import (
	"net/http"

	"chat-relay/auth"
	"chat-relay/transport"

	"github.com/gin-gonic/gin"
)

// NewRouter assembles the full HTTP surface: public auth endpoints,
// bearer-protected message endpoints, and the WebSocket entry point.
func NewRouter(authHandler *AuthHandler, messageHandler *MessageHandler,
	wsHandler *transport.Handler, environment string) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		authGroup := apiGroup.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.GET("/users", authHandler.Users)
		}

		messages := apiGroup.Group("/messages")
		messages.Use(auth.RequireAuth())
		{
			messages.GET("/:userID/:recipientID", messageHandler.Conversation)
			messages.PUT("/read/:messageID", messageHandler.MarkRead)
		}
	}

	// The gatekeeper validates the token itself before upgrading.
	router.GET("/ws/chat", wsHandler.Handle)

	return router
}
