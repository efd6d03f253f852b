package campaign

import (
	"errors"
	"time"

	"sendloop/models"

	"gorm.io/gorm"
)

// ReplyDetector answers whether a contact has written back to a sending
// account since a given moment. It reads the conversations the inbox sync
// worker keeps up to date.
type ReplyDetector struct {
	db *gorm.DB
}

func NewReplyDetector(db *gorm.DB) *ReplyDetector {
	return &ReplyDetector{db: db}
}

// HasReplied reports whether the unique (account, contact) conversation
// holds at least one inbound message sent strictly after since. No
// conversation means no reply.
func (rd *ReplyDetector) HasReplied(accountID, contactID uint, since time.Time) (bool, error) {
	var conversation models.Conversation
	err := rd.db.Where("account_id = ? AND contact_id = ?", accountID, contactID).
		First(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var inbound int64
	err = rd.db.Model(&models.DirectMessage{}).
		Where("conversation_id = ? AND direction = ? AND sent_at > ?",
			conversation.ID, models.DirectionInbound, since).
		Count(&inbound).Error
	if err != nil {
		return false, err
	}
	return inbound > 0, nil
}
