package worker

import (
	"context"
	"log"
	"time"

	"sendloop/campaign"
	"sendloop/models"
	"sendloop/utils"

	"gorm.io/gorm"
)

// InboxWorker periodically pulls inbound messages from the provider for
// every active sending account and persists them as conversations, which is
// what the reply detector reads.
type InboxWorker struct {
	db       *gorm.DB
	provider campaign.MessagingProvider
	creds    campaign.CredentialStore
	interval time.Duration
	logger   *log.Logger
}

func NewInboxWorker(db *gorm.DB, provider campaign.MessagingProvider, creds campaign.CredentialStore, interval time.Duration, logger *log.Logger) *InboxWorker {
	return &InboxWorker{
		db:       db,
		provider: provider,
		creds:    creds,
		interval: interval,
		logger:   logger,
	}
}

func (iw *InboxWorker) Start(ctx context.Context) {
	iw.logger.Println("Starting inbox worker...")
	ticker := time.NewTicker(iw.interval)

	for {
		select {
		case <-ticker.C:
			iw.syncAllAccounts(ctx)
		case <-ctx.Done():
			iw.logger.Println("Stopping inbox worker...")
			ticker.Stop()
			return
		}
	}
}

func (iw *InboxWorker) syncAllAccounts(ctx context.Context) {
	var accounts []models.SendingAccount
	if err := iw.db.Where("is_active = ?", true).Find(&accounts).Error; err != nil {
		iw.logger.Printf("Failed to fetch accounts: %v", err)
		return
	}

	for i := range accounts {
		if err := iw.syncAccount(ctx, &accounts[i]); err != nil {
			iw.logger.Printf("Failed to sync inbox for account %d: %v", accounts[i].ID, err)
			continue
		}
	}
}

func (iw *InboxWorker) syncAccount(ctx context.Context, account *models.SendingAccount) error {
	credential, err := iw.creds.GetCredential(account.ID)
	if err != nil {
		return err
	}

	since := time.Now().Add(-24 * time.Hour)
	if account.LastSyncedAt != nil {
		since = *account.LastSyncedAt
	}

	messages, err := iw.provider.FetchInbox(ctx, credential, since)
	if err != nil {
		return err
	}

	for _, m := range messages {
		if err := iw.storeInbound(account, m); err != nil {
			iw.logger.Printf("Failed to store inbound message for account %d: %v", account.ID, err)
		}
	}

	return iw.db.Model(account).Update("last_synced_at", time.Now()).Error
}

func (iw *InboxWorker) storeInbound(account *models.SendingAccount, m campaign.InboundMessage) error {
	var contact models.Contact
	err := iw.db.Where("handle = ?", m.FromHandle).First(&contact).Error
	if err == gorm.ErrRecordNotFound {
		// Not someone we track; ignore.
		return nil
	}
	if err != nil {
		return err
	}

	conversation := models.Conversation{
		AccountID: account.ID,
		ContactID: contact.ID,
	}
	if err := iw.db.Where("account_id = ? AND contact_id = ?", account.ID, contact.ID).
		FirstOrCreate(&conversation).Error; err != nil {
		return err
	}

	// Dedupe on the provider's message id; re-fetch windows overlap.
	if m.ProviderMessageID != "" {
		var existing int64
		if err := iw.db.Model(&models.DirectMessage{}).
			Where("conversation_id = ? AND provider_message_id = ?", conversation.ID, m.ProviderMessageID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
	}

	message := models.DirectMessage{
		ConversationID:    conversation.ID,
		Direction:         models.DirectionInbound,
		Body:              m.Body,
		ProviderMessageID: m.ProviderMessageID,
		SentAt:            m.SentAt,
	}
	if err := iw.db.Create(&message).Error; err != nil {
		return err
	}

	return iw.db.Model(&conversation).Update("last_message_at", utils.Pointer(m.SentAt)).Error
}
