package models

import "gorm.io/gorm"

// Contact represents a single messageable person. Contacts are created by
// the lead-import side of the product; the engine only reads them.
type Contact struct {
	gorm.Model
	UserID uint `gorm:"index" json:"user_id"`

	Handle      string `gorm:"not null;index" json:"handle"`
	DisplayName string `json:"display_name"`

	// Status
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	// Metadata
	Source string `json:"source"`
}
