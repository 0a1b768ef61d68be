package gateway_test

import (
	"context"

	"chatrelay/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	connID      string
	userID      string
	RecvChannel chan models.ServerFrame
}

func newMockClient(connID, userID string) *MockClient {
	return &MockClient{
		connID:      connID,
		userID:      userID,
		RecvChannel: make(chan models.ServerFrame, 10),
	}
}

func (c *MockClient) GetConnID() string { return c.connID }
func (c *MockClient) GetUserID() string { return c.userID }

func (c *MockClient) GetSendChannel() chan<- models.ServerFrame { return c.RecvChannel }

func (c *MockClient) Run() {}

func (c *MockClient) Close() {}

// unbufferedMockClient never drains its send channel, so any emit to it hits
// the hub's slow-consumer path.
type unbufferedMockClient struct {
	*MockClient
	full chan models.ServerFrame
}

func newUnbufferedMockClient(connID, userID string) *unbufferedMockClient {
	return &unbufferedMockClient{
		MockClient: newMockClient(connID, userID),
		full:       make(chan models.ServerFrame),
	}
}

func (c *unbufferedMockClient) GetSendChannel() chan<- models.ServerFrame { return c.full }

type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) SetUserOnline(ctx context.Context, userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}

func (m *MockPresence) SetUserOffline(ctx context.Context, userID string) error {
	args := m.Called(userID)
	return args.Error(0)
}
