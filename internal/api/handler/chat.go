package handler

import (
	"errors"
	"net/http"

	"chatrelay/backend/internal/chat"
	"chatrelay/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type sendMessageRequest struct {
	SenderID   string `json:"senderId" binding:"required"`
	ReceiverID string `json:"receiverId" binding:"required"`
	Message    string `json:"message" binding:"required"`
}

// SendMessage handles POST /api/sendMessage.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "senderId, receiverId and message are required"})
		return
	}

	msg, err := h.Chat.Send(c.Request.Context(), req.SenderID, req.ReceiverID, req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Message sent successfully",
		"data":    msg,
	})
}

// ViewMessages handles GET /api/viewMessages. The senderId query parameter is
// the viewer; messages addressed to them by receiverId are marked read.
func (h *Handler) ViewMessages(c *gin.Context) {
	viewerID := c.Query("senderId")
	counterpartyID := c.Query("receiverId")

	messages, err := h.Chat.History(c.Request.Context(), viewerID, counterpartyID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Messages retrieved successfully",
		"data":    messages,
	})
}

// OnlineUsers handles GET /api/onlineUsers.
func (h *Handler) OnlineUsers(c *gin.Context) {
	users, err := h.Presence.OnlineUsers(c.Request.Context())
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to list online users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list online users"})
		return
	}
	if users == nil {
		users = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"data": users})
}

// writeError maps the coordinator error taxonomy onto HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNoMessages):
		c.JSON(http.StatusNotFound, gin.H{"error": "No messages found"})
	case errors.Is(err, storage.ErrPersistence):
		h.Log.Error().Err(err).Msg("storage failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage unavailable"})
	default:
		h.Log.Error().Err(err).Msg("unexpected failure")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
