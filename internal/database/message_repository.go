package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MessageRepository provides database operations for chat messages
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new repository instance
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Add stores a message and fills in its ID. A zero Timestamp is set to now.
func (r *MessageRepository) Add(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	if err := r.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to store message for %s: %w", msg.Conversation, err)
	}
	return nil
}

// ListByConversation returns the newest limit messages of a conversation,
// oldest first
func (r *MessageRepository) ListByConversation(conversation string, limit int) ([]Message, error) {
	var messages []Message
	err := r.db.Where("conversation = ?", conversation).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkConversationRead flags every unread message in a conversation as read
// and returns how many changed
func (r *MessageRepository) MarkConversationRead(conversation string) (int64, error) {
	result := r.db.Model(&Message{}).
		Where("conversation = ? AND is_read = ?", conversation, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

// Count returns the total number of stored messages
func (r *MessageRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&Message{}).Count(&count).Error
	return count, err
}
