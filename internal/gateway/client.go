package gateway

import "chatrelay/backend/internal/models"

// Client is one live connection managed by the hub. It abstracts the
// underlying transport so the hub can fan out to any connection type
// uniformly.
type Client interface {
	// GetConnID returns the unique identifier of this connection.
	GetConnID() string
	// GetUserID returns the authenticated user this connection belongs to.
	GetUserID() string

	// GetSendChannel returns the channel the hub writes outbound frames to.
	GetSendChannel() chan<- models.ServerFrame

	// Run starts the connection's read and write pumps.
	Run()
	// Close shuts down the connection's outbound channel.
	Close()
}
