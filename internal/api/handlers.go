package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"supportchat/internal/chat"
	"supportchat/internal/models"
	"supportchat/internal/observability"
	"supportchat/internal/session"
)

// ChatService is the orchestrator surface the handlers call.
type ChatService interface {
	HandleMessage(ctx context.Context, text, sessionID string) (*chat.Result, error)
	History(ctx context.Context, sessionID string) (*models.Conversation, []*models.Message, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires HTTP routes to the chat service.
type Handler struct {
	chat      ChatService
	health    Pinger
	validator *requestValidator
}

// NewHandler constructs a Handler instance.
func NewHandler(service ChatService, health Pinger, maxMessageLength int) *Handler {
	return &Handler{
		chat:      service,
		health:    health,
		validator: newRequestValidator(maxMessageLength),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.healthCheck)
	chatRoutes := router.Group("/chat")
	chatRoutes.POST("/message", h.postMessage)
	chatRoutes.GET("/history/:sessionId", h.getHistory)
}

type chatMessageResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
	Error     bool   `json:"error,omitempty"`
}

type historyResponse struct {
	SessionID string            `json:"sessionId"`
	Messages  []*models.Message `json:"messages"`
}

func (h *Handler) postMessage(c *gin.Context) {
	var req chatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, bindErrors(err))
		return
	}
	if err := h.validator.normalize(&req); err != nil {
		var details validationErrors
		errors.As(err, &details)
		respondValidation(c, details)
		return
	}

	ctx := c.Request.Context()
	res, err := h.chat.HandleMessage(ctx, req.Message, req.SessionID)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("chat message failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal server error",
			"message": "An unexpected error occurred. Please try again.",
		})
		return
	}
	c.JSON(http.StatusOK, chatMessageResponse{
		Reply:     res.Reply,
		SessionID: res.SessionID,
		Error:     res.Error,
	})
}

func (h *Handler) getHistory(c *gin.Context) {
	sessionID, ok := session.Normalize(c.Param("sessionId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}

	ctx := c.Request.Context()
	conv, msgs, err := h.chat.History(ctx, sessionID)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		observability.FromContext(ctx).WithError(err).WithField("session", sessionID).Error("load history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	c.JSON(http.StatusOK, historyResponse{SessionID: conv.ID, Messages: msgs})
}

func (h *Handler) healthCheck(c *gin.Context) {
	if h.health != nil {
		if err := h.health.Ping(c.Request.Context()); err != nil {
			observability.FromContext(c.Request.Context()).WithError(err).Warn("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondValidation(c *gin.Context, details validationErrors) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Validation error",
		"details": details,
	})
}
