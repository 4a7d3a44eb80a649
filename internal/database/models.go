package database

import (
	"fmt"
	"strings"
	"time"
)

// AllCall is the conversation that collects undirected traffic
const AllCall = "@allcall"

// Direction records whether a message was heard or transmitted
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is one stored chat line
type Message struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Conversation string    `gorm:"index;size:32;not null" json:"conversation"`
	From         string    `gorm:"column:from_callsign;size:32;not null" json:"from"`
	To           string    `gorm:"column:to_callsign;size:32;not null" json:"to"`
	Text         string    `gorm:"not null" json:"text"`
	Timestamp    int64     `gorm:"index;not null" json:"timestamp"` // unix ms
	SNR          *int64    `json:"snr,omitempty"`
	Frequency    *int64    `json:"frequency,omitempty"`
	Direction    Direction `gorm:"size:8;not null" json:"direction"`
	IsRead       bool      `gorm:"not null" json:"isRead"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// Validate checks the fields the schema requires
func (m Message) Validate() error {
	if m.Conversation == "" {
		return fmt.Errorf("message has no conversation")
	}
	if m.From == "" || m.To == "" {
		return fmt.Errorf("message needs both from and to: from=%q, to=%q", m.From, m.To)
	}
	if m.Direction != DirectionIncoming && m.Direction != DirectionOutgoing {
		return fmt.Errorf("invalid message direction %q", m.Direction)
	}
	return nil
}

// Conversation is the per-callsign summary shown in the conversation list
type Conversation struct {
	Callsign      string    `gorm:"primarykey;size:32" json:"callsign"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastTimestamp int64     `gorm:"index" json:"lastTimestamp,omitempty"`
	UnreadCount   int       `gorm:"not null;default:0" json:"unreadCount"`
	SNR           *int64    `json:"snr,omitempty"`
	Grid          string    `gorm:"size:8" json:"grid,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Conversation) TableName() string {
	return "conversations"
}

// NormalizeCallsign trims a callsign and upper-cases it. Group names such as
// @allcall are lower-cased instead.
func NormalizeCallsign(callsign string) string {
	callsign = strings.TrimSpace(callsign)
	if strings.HasPrefix(callsign, "@") {
		return strings.ToLower(callsign)
	}
	return strings.ToUpper(callsign)
}
