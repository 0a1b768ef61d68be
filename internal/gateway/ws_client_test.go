package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// A burst of queued frames is coalesced into one websocket message; each
// frame must stay a standalone JSON document on its own line.
func TestWritePump_QueuedFramesAreNewlineDelimited(t *testing.T) {
	started := make(chan *WebSocketClient, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}

		client := &WebSocketClient{
			ConnID: "conn-1",
			UserID: "u2",
			Conn:   conn,
			Send:   make(chan models.ServerFrame, 8),
			Log:    zerolog.Nop(),
		}
		for _, body := range []string{"one", "two", "three"} {
			client.Send <- models.ServerFrame{
				Event: models.EventNewMessage,
				Data:  models.MessageEvent{SenderID: "u1", ReceiverID: "u2", Body: body},
			}
		}
		go client.writePump()
		started <- client
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	lines := bytes.Split(payload, []byte("\n"))
	require.Len(t, lines, 3, "each queued frame gets its own line")

	for i, want := range []string{"one", "two", "three"} {
		var frame models.ServerFrame
		require.NoError(t, json.Unmarshal(lines[i], &frame), "line %d is not standalone JSON", i)
		assert.Equal(t, models.EventNewMessage, frame.Event)
		assert.Equal(t, want, frame.Data.Body)
	}

	client := <-started
	close(client.Send)
}
