package handler

import (
	"context"

	"chatrelay/backend/internal/gateway"
	"chatrelay/backend/internal/models"

	"github.com/rs/zerolog"
)

// ChatService is the delivery coordinator surface used by the HTTP handlers.
type ChatService interface {
	Send(ctx context.Context, senderID, receiverID, body string) (*models.Message, error)
	History(ctx context.Context, viewerID, counterpartyID string) ([]models.Message, error)
}

// PresenceReader lists users currently online.
type PresenceReader interface {
	OnlineUsers(ctx context.Context) ([]string, error)
}

// Handler carries the dependencies for all HTTP and websocket endpoints.
type Handler struct {
	Chat      ChatService
	Presence  PresenceReader
	Hub       *gateway.Hub
	JWTSecret []byte
	Log       zerolog.Logger
}

func NewHandler(chat ChatService, presence PresenceReader, hub *gateway.Hub, jwtSecret []byte, log zerolog.Logger) *Handler {
	return &Handler{
		Chat:      chat,
		Presence:  presence,
		Hub:       hub,
		JWTSecret: jwtSecret,
		Log:       log,
	}
}
