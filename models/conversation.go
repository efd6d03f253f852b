package models

import (
	"time"

	"gorm.io/gorm"
)

// Message directions
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Conversation is the unique thread between a sending account and a contact
type Conversation struct {
	gorm.Model
	AccountID uint   `gorm:"not null;uniqueIndex:idx_account_contact" json:"account_id"`
	ContactID uint   `gorm:"not null;uniqueIndex:idx_account_contact" json:"contact_id"`
	ThreadID  string `gorm:"index" json:"thread_id"`

	LastMessageAt *time.Time `json:"last_message_at"`

	// Relations
	Messages []DirectMessage `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
}

// DirectMessage is one message within a conversation, either sent by a
// campaign or received from the contact.
type DirectMessage struct {
	gorm.Model
	ConversationID uint  `gorm:"not null;index" json:"conversation_id"`
	CampaignID     *uint `gorm:"index" json:"campaign_id,omitempty"`
	RecipientID    *uint `gorm:"index" json:"recipient_id,omitempty"`
	StepOrder      int   `json:"step_order"`

	Direction         string    `gorm:"not null;index" json:"direction"` // outbound, inbound
	Body              string    `gorm:"type:text" json:"body"`
	ProviderMessageID string    `gorm:"index" json:"provider_message_id"`
	SentAt            time.Time `gorm:"not null;index" json:"sent_at"`
}
