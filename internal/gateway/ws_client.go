package gateway

import (
	"encoding/json"
	"time"

	"chatrelay/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	joinRoomEvent = "joinRoom"
)

// WebSocketClient implements Client over a gorilla websocket connection.
type WebSocketClient struct {
	ConnID string
	UserID string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan models.ServerFrame
	Log    zerolog.Logger
}

func (c *WebSocketClient) GetConnID() string                         { return c.ConnID }
func (c *WebSocketClient) GetUserID() string                         { return c.UserID }
func (c *WebSocketClient) GetSendChannel() chan<- models.ServerFrame { return c.Send }

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the Send channel, which stops the write pump.
func (c *WebSocketClient) Close() {
	close(c.Send)
}

func (c *WebSocketClient) readPump() {
	defer func() {
		// The hub may already be gone during shutdown; never block on it.
		select {
		case c.Hub.UnregisterCh <- c:
		case <-c.Hub.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Log.Warn().Err(err).Str("conn", c.ConnID).Msg("websocket read failed")
			}
			break
		}

		var frame models.ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.Log.Warn().Err(err).Str("conn", c.ConnID).Msg("malformed client frame")
			continue
		}

		switch frame.Event {
		case joinRoomEvent:
			// Room membership is bound to the authenticated identity; a
			// client may not join another user's delivery group.
			if frame.UserID != "" && frame.UserID != c.UserID {
				c.Log.Warn().Str("conn", c.ConnID).Str("requested", frame.UserID).
					Msg("join rejected: room does not match authenticated user")
				continue
			}
			select {
			case c.Hub.JoinCh <- JoinRequest{Client: c, UserID: c.UserID}:
			case <-c.Hub.Done():
				return
			}
		default:
			c.Log.Debug().Str("event", frame.Event).Str("conn", c.ConnID).Msg("ignoring unknown client event")
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel, close the websocket.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(frame)
			if err != nil {
				c.Log.Error().Err(err).Str("conn", c.ConnID).Msg("failed to encode frame")
				continue
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)

			// Drain anything already queued into the same write, one JSON
			// document per line so the client can split them apart.
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next := <-c.Send
				if extra, err := json.Marshal(next); err == nil {
					w.Write([]byte{'\n'})
					w.Write(extra)
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
