package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"chatrelay/backend/internal/broker"
	"chatrelay/backend/internal/models"

	"github.com/rs/zerolog"
)

// Presence records which users currently hold at least one live connection.
// Best effort: failures are logged, never fatal.
type Presence interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

// JoinRequest asks the hub to add a connection to a user's delivery group.
// The caller has already checked the user against the connection's
// authenticated identity.
type JoinRequest struct {
	Client Client
	UserID string
}

// Hub owns the live mapping from user identity to connections. All state is
// mutated by the single Run goroutine; the channels are the only way in, so
// registration, joins, teardown and fan-out never race.
type Hub struct {
	// Clients holds every registered connection, keyed by connection id.
	Clients map[string]Client
	// Rooms maps a user id to that user's delivery group.
	Rooms map[string]map[string]Client

	RegisterCh   chan Client
	UnregisterCh chan Client
	JoinCh       chan JoinRequest
	EventCh      chan models.MessageEvent

	presence Presence
	log      zerolog.Logger
	done     chan struct{}
}

func NewHub(presence Presence, log zerolog.Logger) *Hub {
	return &Hub{
		Clients:      make(map[string]Client),
		Rooms:        make(map[string]map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		JoinCh:       make(chan JoinRequest),
		EventCh:      make(chan models.MessageEvent),
		presence:     presence,
		log:          log,
		done:         make(chan struct{}),
	}
}

// Done is closed when the run loop has exited. Pumps select on it so a send
// into the hub cannot block forever during shutdown.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Run is the hub dispatcher. It must run in its own goroutine and exits when
// ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.log.Info().Msg("gateway hub started")
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.RegisterCh:
			h.Clients[client.GetConnID()] = client
			h.log.Debug().Str("conn", client.GetConnID()).Msg("client connected")

		case client := <-h.UnregisterCh:
			h.removeClient(ctx, client)

		case req := <-h.JoinCh:
			h.joinRoom(ctx, req)

		case ev := <-h.EventCh:
			h.emit(ctx, ev)
		}
	}
}

// HandleEvent is the broker consumer callback. It decodes the envelope and
// hands it to the run loop for fan-out.
func (h *Hub) HandleEvent(ctx context.Context, body []byte) error {
	var ev models.MessageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		// Undecodable bodies never succeed on redelivery.
		return fmt.Errorf("%w: decode event: %v", broker.ErrMalformed, err)
	}
	select {
	case h.EventCh <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) joinRoom(ctx context.Context, req JoinRequest) {
	if _, ok := h.Clients[req.Client.GetConnID()]; !ok {
		// Disconnected before the join was processed.
		return
	}

	room := h.Rooms[req.UserID]
	if room == nil {
		room = make(map[string]Client)
		h.Rooms[req.UserID] = room
	}

	first := len(room) == 0
	room[req.Client.GetConnID()] = req.Client
	h.log.Debug().Str("conn", req.Client.GetConnID()).Str("room", req.UserID).Msg("client joined room")

	if first {
		if err := h.presence.SetUserOnline(ctx, req.UserID); err != nil {
			h.log.Warn().Err(err).Str("user", req.UserID).Msg("failed to mark user online")
		}
	}
}

func (h *Hub) removeClient(ctx context.Context, client Client) {
	connID := client.GetConnID()
	if _, ok := h.Clients[connID]; !ok {
		return
	}
	delete(h.Clients, connID)
	client.Close()

	for userID, room := range h.Rooms {
		if _, ok := room[connID]; !ok {
			continue
		}
		delete(room, connID)
		if len(room) == 0 {
			delete(h.Rooms, userID)
			if err := h.presence.SetUserOffline(ctx, userID); err != nil {
				h.log.Warn().Err(err).Str("user", userID).Msg("failed to mark user offline")
			}
		}
	}
	h.log.Debug().Str("conn", connID).Msg("client disconnected")
}

// emit fans an event out to every connection in the recipient's room. An
// empty room drops the event: the message itself is already durable, only
// this live delivery is lost.
func (h *Hub) emit(ctx context.Context, ev models.MessageEvent) {
	room := h.Rooms[ev.ReceiverID]
	if len(room) == 0 {
		h.log.Debug().Str("recipient", ev.ReceiverID).Msg("no live connections, event dropped")
		return
	}

	frame := models.ServerFrame{Event: models.EventNewMessage, Data: ev}
	for _, client := range room {
		select {
		case client.GetSendChannel() <- frame:
		default:
			// Slow consumer: drop the connection rather than block fan-out.
			h.log.Warn().Str("conn", client.GetConnID()).Msg("send buffer full, dropping client")
			h.removeClient(ctx, client)
		}
	}
	h.log.Debug().Str("recipient", ev.ReceiverID).Int("connections", len(room)).Msg("event emitted")
}
