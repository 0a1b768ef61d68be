package handler

import (
	"net/http"

	"chatrelay/backend/internal/gateway"
	"chatrelay/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin. Tighten for production.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket upgrades the request and registers the connection with the
// gateway hub under the authenticated user. Runs behind AuthRequired.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	userID := c.GetString(userIDKey)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own HTTP error to the client.
		h.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &gateway.WebSocketClient{
		ConnID: uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Hub:    h.Hub,
		Send:   make(chan models.ServerFrame, 256),
		Log:    h.Log,
	}

	select {
	case h.Hub.RegisterCh <- client:
	case <-h.Hub.Done():
		conn.Close()
		return
	}
	client.Run()
}
