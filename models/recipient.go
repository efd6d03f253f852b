package models

import (
	"time"

	"gorm.io/gorm"
)

// Recipient statuses. Completed, replied and failed are terminal.
const (
	RecipientStatusPending    = "pending"
	RecipientStatusInProgress = "in_progress"
	RecipientStatusCompleted  = "completed"
	RecipientStatusReplied    = "replied"
	RecipientStatusFailed     = "failed"
)

// CampaignRecipient tracks one contact through a campaign's step sequence
type CampaignRecipient struct {
	gorm.Model
	CampaignID        uint `gorm:"not null;index" json:"campaign_id"`
	ContactID         uint `gorm:"not null;index" json:"contact_id"`
	AssignedAccountID uint `gorm:"not null;index" json:"assigned_account_id"`

	Status           string `gorm:"default:'pending';index" json:"status"`
	CurrentStepOrder int    `gorm:"default:0" json:"current_step_order"`

	LastProcessedAt *time.Time `json:"last_processed_at"`
	NextActionAt    *time.Time `json:"next_action_at"`
	ErrorMessage    string     `json:"error_message"`

	// Bumped by the engine's claim before each send so overlapping
	// invocations skip rows another invocation already owns.
	ClaimVersion int `gorm:"default:0" json:"-"`

	// Relations
	Contact Contact `json:"contact,omitempty"`
}

// IsTerminal reports whether the recipient can never be processed again.
func (r *CampaignRecipient) IsTerminal() bool {
	switch r.Status {
	case RecipientStatusCompleted, RecipientStatusReplied, RecipientStatusFailed:
		return true
	}
	return false
}
