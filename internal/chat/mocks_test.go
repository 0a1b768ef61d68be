package chat_test

import (
	"context"

	"chatrelay/backend/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) AppendMessage(ctx context.Context, senderID, receiverID, body string) (*models.Message, error) {
	args := m.Called(senderID, receiverID, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStore) FindConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStore) MarkDelivered(ctx context.Context, viewerID, counterpartyID string) error {
	args := m.Called(viewerID, counterpartyID)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, exchange, key string, payload any) error {
	args := m.Called(exchange, key, payload)
	return args.Error(0)
}
