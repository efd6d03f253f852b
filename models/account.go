package models

import (
	"time"

	"gorm.io/gorm"
)

// SendingAccount represents an authenticated identity used to dispatch messages
type SendingAccount struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Handle   string `gorm:"not null" json:"handle"`
	Label    string `json:"label"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Provider credential, encrypted in the application layer
	CredentialCipher string `gorm:"type:text" json:"-"`

	// Status
	LastError    *string    `json:"last_error"`
	LastTestedAt *time.Time `json:"last_tested_at"`

	// Inbound sync watermark
	LastSyncedAt *time.Time `json:"last_synced_at"`

	// Usage metrics
	TotalSent int `gorm:"default:0" json:"total_sent"`
}

// Sanitize strips secrets before the account is serialized
func (a *SendingAccount) Sanitize() {
	a.CredentialCipher = ""
}

// AccountDailyCount is the per-(account, day) send quota ledger. Day is a
// calendar date in "2006-01-02" form so the pair can carry a unique index.
type AccountDailyCount struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	AccountID uint   `gorm:"not null;uniqueIndex:idx_account_day" json:"account_id"`
	Day       string `gorm:"not null;uniqueIndex:idx_account_day" json:"day"`
	Count     int    `gorm:"default:0" json:"count"`
}
