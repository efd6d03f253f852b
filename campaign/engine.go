package campaign

import (
	"context"
	"fmt"
	"time"

	"sendloop/models"
	"sendloop/utils"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Engine drives campaigns through their step sequences. ProcessCampaign is
// the single entry point; an external trigger (the campaign worker or the
// process endpoint) invokes it repeatedly and every call is a clean no-op
// when there is nothing due.
type Engine struct {
	db        *gorm.DB
	provider  MessagingProvider
	creds     CredentialStore
	quota     *QuotaTracker
	replies   *ReplyDetector
	logger    *logrus.Entry
	sendDelay time.Duration
}

// NewEngine wires the engine. sendDelay is the fixed pause between two sends
// on the same account, independent from the daily quota.
func NewEngine(db *gorm.DB, provider MessagingProvider, creds CredentialStore, sendDelay time.Duration) *Engine {
	return &Engine{
		db:        db,
		provider:  provider,
		creds:     creds,
		quota:     NewQuotaTracker(db),
		replies:   NewReplyDetector(db),
		logger:    logrus.WithField("component", "engine"),
		sendDelay: sendDelay,
	}
}

// Quota exposes the engine's quota tracker so collaborating components
// (scheduler, handlers) share one ledger.
func (e *Engine) Quota() *QuotaTracker {
	return e.quota
}

// ProcessCampaign runs one execution cycle: promote a scheduled campaign
// whose start time elapsed, walk every due recipient account by account,
// and mark the campaign completed once no workable recipients remain.
// Failures are contained per recipient, then per account; only a campaign
// that cannot be loaded errors out.
func (e *Engine) ProcessCampaign(ctx context.Context, campaignID uint) error {
	var campaign models.Campaign
	if err := e.db.First(&campaign, campaignID).Error; err != nil {
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}
	log := e.logger.WithField("campaign_id", campaign.ID)

	now := time.Now()
	if campaign.Status == models.CampaignStatusScheduled &&
		campaign.ScheduledAt != nil && !campaign.ScheduledAt.After(now) {
		updates := map[string]interface{}{
			"status":     models.CampaignStatusRunning,
			"started_at": now,
		}
		if err := e.db.Model(&campaign).Updates(updates).Error; err != nil {
			return fmt.Errorf("start campaign %d: %w", campaignID, err)
		}
		log.Info("campaign started")
	}
	if campaign.Status != models.CampaignStatusRunning {
		log.WithField("status", campaign.Status).Debug("campaign not running, nothing to do")
		return nil
	}

	var steps []models.CampaignStep
	if err := e.db.Where("campaign_id = ?", campaign.ID).
		Order("step_order ASC").
		Preload("Variants").
		Find(&steps).Error; err != nil {
		return fmt.Errorf("load steps for campaign %d: %w", campaignID, err)
	}
	if len(steps) == 0 {
		log.Warn("campaign has no steps, skipping cycle")
		return nil
	}

	var recipients []models.CampaignRecipient
	if err := e.db.Where("campaign_id = ? AND status IN ?", campaign.ID,
		[]string{models.RecipientStatusPending, models.RecipientStatusInProgress}).
		Preload("Contact").
		Order("id ASC").
		Find(&recipients).Error; err != nil {
		return fmt.Errorf("load recipients for campaign %d: %w", campaignID, err)
	}

	if len(recipients) > 0 {
		accounts, err := e.resolveAccounts(&campaign)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			log.Warn("campaign has no sending accounts, skipping cycle")
			return nil
		}

		byAccount := make(map[uint][]*models.CampaignRecipient)
		for i := range recipients {
			r := &recipients[i]
			byAccount[r.AssignedAccountID] = append(byAccount[r.AssignedAccountID], r)
		}

		for i := range accounts {
			account := &accounts[i]
			assigned := byAccount[account.ID]
			if len(assigned) == 0 {
				continue
			}
			e.processAccount(ctx, &campaign, account, steps, assigned)
		}
	}

	var remaining int64
	if err := e.db.Model(&models.CampaignRecipient{}).
		Where("campaign_id = ? AND status IN ?", campaign.ID,
			[]string{models.RecipientStatusPending, models.RecipientStatusInProgress}).
		Count(&remaining).Error; err != nil {
		return fmt.Errorf("recount recipients for campaign %d: %w", campaignID, err)
	}
	if remaining == 0 {
		updates := map[string]interface{}{
			"status":       models.CampaignStatusCompleted,
			"completed_at": time.Now(),
		}
		if err := e.db.Model(&campaign).Updates(updates).Error; err != nil {
			return fmt.Errorf("complete campaign %d: %w", campaignID, err)
		}
		log.Info("campaign completed")
	}
	return nil
}

// processAccount walks one account's recipients sequentially. A missing
// credential skips the account for this cycle only; a reached quota skips
// it until the next day.
func (e *Engine) processAccount(ctx context.Context, campaign *models.Campaign, account *models.SendingAccount, steps []models.CampaignStep, recipients []*models.CampaignRecipient) {
	log := e.logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"account_id":  account.ID,
	})

	credential, err := e.creds.GetCredential(account.ID)
	if err != nil {
		log.WithError(err).Warn("credential unavailable, skipping account this cycle")
		return
	}

	sent, err := e.quota.Count(account.ID, time.Now())
	if err != nil {
		log.WithError(err).Error("quota lookup failed, skipping account this cycle")
		return
	}
	if sent >= campaign.MessagesPerDay {
		log.WithField("sent_today", sent).Debug("daily quota reached, skipping account")
		return
	}

	for _, r := range recipients {
		if sent >= campaign.MessagesPerDay {
			log.Debug("daily quota reached mid-cycle, stopping account")
			break
		}
		if r.NextActionAt != nil && r.NextActionAt.After(time.Now()) {
			continue
		}

		delivered, err := e.processRecipient(ctx, campaign, account, credential, steps, r)
		if err != nil {
			e.failRecipient(campaign, r, err)
		}
		if delivered {
			sent++
			time.Sleep(e.sendDelay)
		}
	}
}

// processRecipient advances one recipient by at most one step. It reports
// whether a message went out; any returned error is recorded by the caller
// as a terminal recipient failure.
func (e *Engine) processRecipient(ctx context.Context, campaign *models.Campaign, account *models.SendingAccount, credential string, steps []models.CampaignStep, r *models.CampaignRecipient) (bool, error) {
	log := e.logger.WithFields(logrus.Fields{
		"campaign_id":  campaign.ID,
		"recipient_id": r.ID,
	})

	target := stepAfter(steps, r.CurrentStepOrder)
	if target == nil {
		// Sequence exhausted.
		updates := map[string]interface{}{"status": models.RecipientStatusCompleted}
		if err := e.db.Model(r).Updates(updates).Error; err != nil {
			return false, err
		}
		r.Status = models.RecipientStatusCompleted
		log.Info("recipient completed sequence")
		return false, nil
	}

	// Follow-ups are cancelled as soon as the contact writes back.
	if target.StepOrder > 1 && r.LastProcessedAt != nil {
		replied, err := e.replies.HasReplied(account.ID, r.ContactID, *r.LastProcessedAt)
		if err != nil {
			return false, fmt.Errorf("reply check: %w", err)
		}
		if replied {
			updates := map[string]interface{}{"status": models.RecipientStatusReplied}
			if err := e.db.Model(r).Updates(updates).Error; err != nil {
				return false, err
			}
			r.Status = models.RecipientStatusReplied
			if err := e.db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
				Update("reply_count", gorm.Expr("reply_count + 1")).Error; err != nil {
				log.WithError(err).Error("failed to bump campaign reply count")
			}
			log.Info("reply detected, follow-ups cancelled")
			return false, nil
		}
	}

	text := ResolveMessage(target)
	if text == "" {
		log.WithField("step_order", target.StepOrder).Warn("step has no usable template, skipping recipient")
		return false, nil
	}
	text = Personalize(text, &r.Contact)

	// Optimistic claim: a concurrent invocation that already bumped the
	// version owns this recipient, so this one steps aside without sending.
	claim := e.db.Model(&models.CampaignRecipient{}).
		Where("id = ? AND claim_version = ?", r.ID, r.ClaimVersion).
		Update("claim_version", r.ClaimVersion+1)
	if claim.Error != nil {
		return false, claim.Error
	}
	if claim.RowsAffected == 0 {
		log.Debug("recipient claimed by a concurrent invocation, skipping")
		return false, nil
	}
	r.ClaimVersion++

	result, sendErr := e.provider.SendDirectMessage(ctx, credential, r.Contact.Handle, text)
	if sendErr != nil {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("campaign_id", fmt.Sprint(campaign.ID))
			scope.SetTag("account_id", fmt.Sprint(account.ID))
			sentry.CaptureException(sendErr)
		})
		return false, fmt.Errorf("send to %s: %w", r.Contact.Handle, sendErr)
	}

	now := time.Now()
	var nextAction *time.Time
	if next := stepAfter(steps, target.StepOrder); next != nil {
		nextAction = utils.Pointer(now.Add(time.Duration(next.DelayDays) * 24 * time.Hour))
	}
	updates := map[string]interface{}{
		"status":             models.RecipientStatusInProgress,
		"current_step_order": target.StepOrder,
		"last_processed_at":  now,
		"next_action_at":     nextAction,
		"error_message":      "",
	}
	if err := e.db.Model(r).Updates(updates).Error; err != nil {
		// The message is already out; losing the bookkeeping write must not
		// flip the recipient to failed.
		log.WithError(err).Error("failed to persist recipient advance")
		return true, nil
	}
	r.Status = models.RecipientStatusInProgress
	r.CurrentStepOrder = target.StepOrder
	r.LastProcessedAt = utils.Pointer(now)
	r.NextActionAt = nextAction

	e.recordOutbound(campaign, account, r, target, text, result, now)

	if err := e.db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("sent_count", gorm.Expr("sent_count + 1")).Error; err != nil {
		log.WithError(err).Error("failed to bump campaign sent count")
	}
	if err := e.db.Model(&models.CampaignStep{}).Where("id = ?", target.ID).
		Update("sent_count", gorm.Expr("sent_count + 1")).Error; err != nil {
		log.WithError(err).Error("failed to bump step sent count")
	}
	if err := e.quota.Increment(account.ID, now); err != nil {
		log.WithError(err).Error("failed to increment daily quota")
	}

	log.WithField("step_order", target.StepOrder).Info("message sent")
	return true, nil
}

// recordOutbound upserts the conversation and appends the sent message so
// the reply detector has the full thread.
func (e *Engine) recordOutbound(campaign *models.Campaign, account *models.SendingAccount, r *models.CampaignRecipient, step *models.CampaignStep, text string, result *SendResult, sentAt time.Time) {
	conversation := models.Conversation{
		AccountID: account.ID,
		ContactID: r.ContactID,
	}
	if err := e.db.Where("account_id = ? AND contact_id = ?", account.ID, r.ContactID).
		FirstOrCreate(&conversation).Error; err != nil {
		e.logger.WithError(err).Error("failed to upsert conversation")
		return
	}

	updates := map[string]interface{}{"last_message_at": sentAt}
	if conversation.ThreadID == "" && result.ThreadID != "" {
		updates["thread_id"] = result.ThreadID
	}
	if err := e.db.Model(&conversation).Updates(updates).Error; err != nil {
		e.logger.WithError(err).Error("failed to update conversation")
	}

	message := models.DirectMessage{
		ConversationID:    conversation.ID,
		CampaignID:        utils.Pointer(campaign.ID),
		RecipientID:       utils.Pointer(r.ID),
		StepOrder:         step.StepOrder,
		Direction:         models.DirectionOutbound,
		Body:              text,
		ProviderMessageID: result.ProviderMessageID,
		SentAt:            sentAt,
	}
	if err := e.db.Create(&message).Error; err != nil {
		e.logger.WithError(err).Error("failed to record outbound message")
	}
}

// failRecipient records a terminal failure without letting it touch the
// rest of the cycle.
func (e *Engine) failRecipient(campaign *models.Campaign, r *models.CampaignRecipient, cause error) {
	updates := map[string]interface{}{
		"status":        models.RecipientStatusFailed,
		"error_message": cause.Error(),
	}
	if err := e.db.Model(r).Updates(updates).Error; err != nil {
		e.logger.WithError(err).Error("failed to mark recipient failed")
		return
	}
	r.Status = models.RecipientStatusFailed
	r.ErrorMessage = cause.Error()

	if err := e.db.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
		Update("failed_count", gorm.Expr("failed_count + 1")).Error; err != nil {
		e.logger.WithError(err).Error("failed to bump campaign failed count")
	}

	e.logger.WithFields(logrus.Fields{
		"campaign_id":  campaign.ID,
		"recipient_id": r.ID,
	}).WithError(cause).Warn("recipient failed")
}

// resolveAccounts returns the campaign's sending accounts in link order,
// falling back to the legacy single embedded account.
func (e *Engine) resolveAccounts(campaign *models.Campaign) ([]models.SendingAccount, error) {
	var links []models.CampaignAccount
	if err := e.db.Where("campaign_id = ?", campaign.ID).
		Order("id ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("load account links for campaign %d: %w", campaign.ID, err)
	}

	ids := make([]uint, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.AccountID)
	}
	if len(ids) == 0 && campaign.AccountID != nil {
		ids = append(ids, *campaign.AccountID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var accounts []models.SendingAccount
	if err := e.db.Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("load accounts for campaign %d: %w", campaign.ID, err)
	}

	byID := make(map[uint]models.SendingAccount, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	ordered := make([]models.SendingAccount, 0, len(accounts))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}

// stepAfter returns the step whose order immediately follows current, nil
// when the sequence is exhausted.
func stepAfter(steps []models.CampaignStep, current int) *models.CampaignStep {
	for i := range steps {
		if steps[i].StepOrder == current+1 {
			return &steps[i]
		}
	}
	return nil
}
