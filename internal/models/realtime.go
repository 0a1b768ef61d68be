package models

import "time"

// Broker wire contract shared by the publisher and the consumer process.
const (
	ExchangeChat         = "chat"
	RoutingKeyNewMessage = "new_message"
	QueueNewMessage      = "new_message_queue"

	// EventNewMessage is the websocket event name emitted to recipients.
	EventNewMessage = "newMessage"
)

// MessageEvent is the envelope published to the broker for each new message.
// It carries the read flag as it was at publish time.
type MessageEvent struct {
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// ClientFrame is an inbound websocket frame from a connected client.
type ClientFrame struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

// ServerFrame is an outbound websocket frame sent to a client.
type ServerFrame struct {
	Event string       `json:"event"`
	Data  MessageEvent `json:"data"`
}
