package chat

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/backend/internal/models"
	"chatrelay/backend/internal/storage"

	"github.com/rs/zerolog"
)

var (
	// ErrValidation marks a missing or malformed request field. Rejected
	// before any side effect.
	ErrValidation = errors.New("chat: validation failed")
	// ErrNoMessages is returned when a conversation has no history. The
	// source system treats an empty conversation as an error rather than an
	// empty success, and that policy is kept here.
	ErrNoMessages = errors.New("chat: no messages found")
)

// Publisher is the broker surface the coordinator needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, payload any) error
}

// MessageStore is the storage surface the coordinator needs.
type MessageStore interface {
	AppendMessage(ctx context.Context, senderID, receiverID, body string) (*models.Message, error)
	FindConversation(ctx context.Context, userA, userB string) ([]models.Message, error)
	MarkDelivered(ctx context.Context, viewerID, counterpartyID string) error
}

// Service orchestrates message delivery: persist first, then publish for
// realtime fan-out, with history retrieval flipping read state.
type Service struct {
	store  MessageStore
	broker Publisher
	log    zerolog.Logger
}

func NewService(store MessageStore, broker Publisher, log zerolog.Logger) *Service {
	return &Service{store: store, broker: broker, log: log}
}

// Send persists the message and publishes a new-message event. Persistence
// must succeed; a publish failure is logged but does not fail the call, the
// message is durable and the recipient sees it on the next history fetch.
func (s *Service) Send(ctx context.Context, senderID, receiverID, body string) (*models.Message, error) {
	if senderID == "" || receiverID == "" || body == "" {
		return nil, fmt.Errorf("%w: senderId, receiverId and message are required", ErrValidation)
	}
	if senderID == receiverID {
		return nil, fmt.Errorf("%w: sender and receiver must differ", ErrValidation)
	}

	msg, err := s.store.AppendMessage(ctx, senderID, receiverID, body)
	if err != nil {
		return nil, err
	}

	event := models.MessageEvent{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Body:       msg.Body,
		Timestamp:  msg.Timestamp,
		Read:       msg.Read,
	}
	if err := s.broker.Publish(ctx, models.ExchangeChat, models.RoutingKeyNewMessage, event); err != nil {
		// The write is already durable; realtime delivery for this message
		// is lost but the send itself succeeded.
		s.log.Error().Err(err).
			Str("sender", senderID).
			Str("receiver", receiverID).
			Msg("message persisted but publish failed")
	}

	return msg, nil
}

// History returns the conversation between viewer and counterparty, oldest
// first, and marks every message addressed to the viewer as read. The
// returned rows are the pre-mutation snapshot: messages viewed for the first
// time still report read=false.
func (s *Service) History(ctx context.Context, viewerID, counterpartyID string) ([]models.Message, error) {
	if viewerID == "" || counterpartyID == "" {
		return nil, fmt.Errorf("%w: senderId and receiverId are required", ErrValidation)
	}

	messages, err := s.store.FindConversation(ctx, viewerID, counterpartyID)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	if err := s.store.MarkDelivered(ctx, viewerID, counterpartyID); err != nil {
		return nil, err
	}

	return messages, nil
}

var _ MessageStore = (*storage.Service)(nil)
