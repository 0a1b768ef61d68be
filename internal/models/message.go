package models

import "time"

// Message is a persisted chat message between two users.
// It is owned by the storage layer; every other component works on copies.
type Message struct {
	// ID is the auto-assigned primary key, allocated at persistence time.
	ID uint `gorm:"primaryKey" json:"id"`
	// SenderID is the identifier of the user who sent the message.
	SenderID string `gorm:"type:text;not null;index:idx_conversation" json:"senderId"`
	// ReceiverID is the identifier of the user the message is addressed to.
	ReceiverID string `gorm:"type:text;not null;index:idx_conversation" json:"receiverId"`
	// Body is the message text.
	Body string `gorm:"type:text;not null" json:"body"`
	// Timestamp is assigned by the server when the message is stored.
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
	// Read flips to true once the receiver has viewed the conversation.
	Read bool `gorm:"not null;default:false" json:"read"`
}
