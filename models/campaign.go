package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusRunning   = "running"
	CampaignStatusCompleted = "completed"
	CampaignStatusPaused    = "paused"
	CampaignStatusFailed    = "failed"
)

// Campaign represents a multi-step outreach campaign
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Campaign details
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// Scheduling
	Status      string     `gorm:"default:'draft'" json:"status"` // draft, scheduled, running, completed, paused, failed
	ScheduledAt *time.Time `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Sending window configuration
	MessagesPerDay int    `gorm:"default:50" json:"messages_per_day"` // per-account daily cap
	SendStartTime  string `gorm:"default:'09:00'" json:"send_start_time"`
	SendEndTime    string `gorm:"default:'18:00'" json:"send_end_time"`
	Timezone       string `gorm:"default:'UTC'" json:"timezone"`

	// Legacy single-account campaigns set this directly; newer campaigns
	// link accounts through CampaignAccount rows.
	AccountID *uint `gorm:"index" json:"account_id,omitempty"`

	// Statistics (denormalized for performance)
	SentCount   int `gorm:"default:0" json:"sent_count"`
	FailedCount int `gorm:"default:0" json:"failed_count"`
	ReplyCount  int `gorm:"default:0" json:"reply_count"`

	// Relations
	Steps      []CampaignStep      `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	Accounts   []CampaignAccount   `gorm:"foreignKey:CampaignID" json:"accounts,omitempty"`
	Recipients []CampaignRecipient `gorm:"foreignKey:CampaignID" json:"recipients,omitempty"`
}

// CampaignStep represents one stage in the message sequence
type CampaignStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	StepOrder int `gorm:"not null" json:"step_order"` // 1-based
	DelayDays int `gorm:"default:0" json:"delay_days"`

	// Legacy single-template body; ignored whenever Variants exist
	Body string `gorm:"type:text" json:"body"`

	// Tracking
	SentCount int `gorm:"default:0" json:"sent_count"`

	// Relations
	Variants []StepVariant `gorm:"foreignKey:StepID" json:"variants,omitempty"`
}

// StepVariant is one of several interchangeable message texts for a step
type StepVariant struct {
	gorm.Model
	StepID uint   `gorm:"not null;index" json:"step_id"`
	Body   string `gorm:"type:text;not null" json:"body"`
}

// CampaignAccount joins campaigns to sending accounts
type CampaignAccount struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	AccountID  uint `gorm:"not null;index" json:"account_id"`
}
