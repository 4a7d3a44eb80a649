package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository provides database operations for conversation summaries
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new repository instance
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// List returns all conversations, most recent first. Conversations with no
// traffic yet sort last, by callsign.
func (r *ConversationRepository) List() ([]Conversation, error) {
	var conversations []Conversation
	err := r.db.
		Order("last_timestamp = 0").
		Order("last_timestamp DESC").
		Order("callsign ASC").
		Find(&conversations).Error
	return conversations, err
}

// Get finds one conversation. Returns gorm.ErrRecordNotFound if absent.
func (r *ConversationRepository) Get(callsign string) (*Conversation, error) {
	var conversation Conversation
	err := r.db.Where("callsign = ?", callsign).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// Touch records the latest message of a conversation, creating it if needed.
// The unread count is left alone. A nil snr or empty grid keeps the stored value.
func (r *ConversationRepository) Touch(callsign, lastMessage string, timestamp int64, snr *int64, grid string) error {
	if callsign == "" {
		return fmt.Errorf("callsign cannot be empty")
	}

	conversation := Conversation{
		Callsign:      callsign,
		LastMessage:   lastMessage,
		LastTimestamp: timestamp,
		SNR:           snr,
		Grid:          grid,
		UpdatedAt:     time.Now(),
	}

	updates := []string{"last_message", "last_timestamp", "updated_at"}
	if snr != nil {
		updates = append(updates, "snr")
	}
	if grid != "" {
		updates = append(updates, "grid")
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "callsign"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&conversation).Error
	if err != nil {
		return fmt.Errorf("failed to update conversation %s: %w", callsign, err)
	}
	return nil
}

// IncrementUnread bumps the unread count and returns the new value
func (r *ConversationRepository) IncrementUnread(callsign string) (int, error) {
	var unread int
	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&Conversation{}).
			Where("callsign = ?", callsign).
			Updates(map[string]any{
				"unread_count": gorm.Expr("unread_count + ?", 1),
				"updated_at":   time.Now(),
			}).Error
		if err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("callsign = ?", callsign).
			Select("unread_count").
			Scan(&unread).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment unread for %s: %w", callsign, err)
	}
	return unread, nil
}

// ResetUnread sets the unread count back to zero
func (r *ConversationRepository) ResetUnread(callsign string) error {
	return r.db.Model(&Conversation{}).
		Where("callsign = ?", callsign).
		Updates(map[string]any{
			"unread_count": 0,
			"updated_at":   time.Now(),
		}).Error
}
