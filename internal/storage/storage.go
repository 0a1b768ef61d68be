package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatrelay/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrPersistence marks a storage-layer failure. Callers treat it as fatal for
// the current operation; nothing is retried at this layer.
var ErrPersistence = errors.New("storage: persistence failure")

const onlineUsersKey = "online_users"

// Store is the durable message record plus the best-effort presence set.
type Store interface {
	AppendMessage(ctx context.Context, senderID, receiverID, body string) (*models.Message, error)
	FindConversation(ctx context.Context, userA, userB string) ([]models.Message, error)
	MarkDelivered(ctx context.Context, viewerID, counterpartyID string) error

	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
	OnlineUsers(ctx context.Context) ([]string, error)
}

// Service implements Store on PostgreSQL (messages) and Redis (presence).
// Safe for concurrent use; gorm and go-redis handle their own pooling.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{DB: db, Redis: rdb}
}

// AppendMessage stores a new unread message and returns the persisted record
// with its id and server-assigned timestamp filled in.
func (s *Service) AppendMessage(ctx context.Context, senderID, receiverID, body string) (*models.Message, error) {
	msg := models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Timestamp:  time.Now().UTC(),
		Read:       false,
	}

	if err := s.DB.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("%w: append message: %v", ErrPersistence, err)
	}
	return &msg, nil
}

// FindConversation returns every message exchanged between the two users, in
// either direction, ordered oldest first. Equal timestamps keep insertion
// order via the id tiebreaker. An empty conversation is an empty slice, not
// an error; the caller decides whether that is user-facing "not found".
func (s *Service) FindConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	var messages []models.Message
	err := s.DB.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("timestamp asc, id asc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("%w: find conversation: %v", ErrPersistence, err)
	}
	return messages, nil
}

// MarkDelivered flips read=true on every unread message sent by the
// counterparty to the viewer. Bulk and idempotent: a second call matches no
// rows.
func (s *Service) MarkDelivered(ctx context.Context, viewerID, counterpartyID string) error {
	err := s.DB.WithContext(ctx).
		Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND read = ?", counterpartyID, viewerID, false).
		Update("read", true).Error
	if err != nil {
		return fmt.Errorf("%w: mark delivered: %v", ErrPersistence, err)
	}
	return nil
}

// SetUserOnline adds the user to the presence set in Redis.
func (s *Service) SetUserOnline(ctx context.Context, userID string) error {
	return s.Redis.SAdd(ctx, onlineUsersKey, userID).Err()
}

// SetUserOffline removes the user from the presence set.
func (s *Service) SetUserOffline(ctx context.Context, userID string) error {
	return s.Redis.SRem(ctx, onlineUsersKey, userID).Err()
}

// OnlineUsers lists users currently marked online.
func (s *Service) OnlineUsers(ctx context.Context) ([]string, error) {
	return s.Redis.SMembers(ctx, onlineUsersKey).Result()
}
