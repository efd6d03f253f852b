package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"sendloop/models"
	"sendloop/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCampaignQuotaScenario(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 2, account.ID)
	seedStep(t, db, c.ID, 1, 0, "Hey {{name}}, quick question")
	seedStep(t, db, c.ID, 2, 1, "Bumping this, {{name}}")

	alice := seedContact(t, db, "alice", "Alice")
	bob := seedContact(t, db, "bob", "Bob")
	r1 := seedRecipient(t, db, c.ID, alice.ID, account.ID, models.RecipientStatusPending, 0, due())
	r2 := seedRecipient(t, db, c.ID, bob.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	// First cycle: both recipients fit under the cap of 2.
	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Equal(t, []string{"alice", "bob"}, provider.sentHandles())

	got1 := reloadRecipient(t, db, r1.ID)
	assert.Equal(t, models.RecipientStatusInProgress, got1.Status)
	assert.Equal(t, 1, got1.CurrentStepOrder)
	require.NotNil(t, got1.NextActionAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *got1.NextActionAt, time.Minute)

	got2 := reloadRecipient(t, db, r2.ID)
	assert.Equal(t, 1, got2.CurrentStepOrder)

	gotCampaign := reloadCampaign(t, db, c.ID)
	assert.Equal(t, 2, gotCampaign.SentCount)

	count, err := engine.Quota().Count(account.ID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Second cycle the same day: quota reached, account skipped entirely.
	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Len(t, provider.sentHandles(), 2)
	assert.Equal(t, 2, reloadCampaign(t, db, c.ID).SentCount)
}

func TestProcessCampaignQuotaSharedAcrossCampaigns(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 3, account.ID)
	seedStep(t, db, c.ID, 1, 0, "hello {{handle}}")

	contact := seedContact(t, db, "carol", "Carol")
	seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	// Another campaign already spent the whole daily budget on this account.
	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Quota().Increment(account.ID, time.Now()))
	}

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Empty(t, provider.sentHandles())
	assert.Equal(t, models.RecipientStatusPending, reloadRecipient(t, db, 1).Status)
}

func TestProcessCampaignPromotesScheduled(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	require.NoError(t, db.Model(&c).Updates(map[string]interface{}{
		"status":       models.CampaignStatusScheduled,
		"scheduled_at": time.Now().Add(-time.Minute),
		"started_at":   nil,
	}).Error)
	seedStep(t, db, c.ID, 1, 0, "hi {{name}}")
	contact := seedContact(t, db, "dave", "Dave")
	seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))

	got := reloadCampaign(t, db, c.ID)
	assert.NotNil(t, got.StartedAt)
	assert.Equal(t, []string{"dave"}, provider.sentHandles())
}

func TestProcessCampaignFutureScheduleNoOp(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	require.NoError(t, db.Model(&c).Updates(map[string]interface{}{
		"status":       models.CampaignStatusScheduled,
		"scheduled_at": time.Now().Add(time.Hour),
	}).Error)
	seedStep(t, db, c.ID, 1, 0, "hi")
	contact := seedContact(t, db, "erin", "Erin")
	seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Empty(t, provider.sentHandles())
	assert.Equal(t, models.CampaignStatusScheduled, reloadCampaign(t, db, c.ID).Status)
}

func TestProcessCampaignPausedNoOp(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	require.NoError(t, db.Model(&c).Update("status", models.CampaignStatusPaused).Error)
	seedStep(t, db, c.ID, 1, 0, "hi")
	contact := seedContact(t, db, "frank", "Frank")
	seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Empty(t, provider.sentHandles())
}

func TestProcessCampaignMissingCampaignErrors(t *testing.T) {
	db := newTestDB(t)
	engine := newTestEngine(db, newFakeProvider(), staticCreds{})
	assert.Error(t, engine.ProcessCampaign(context.Background(), 42))
}

func TestProcessCampaignNoStepsWarnsAndReturns(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	contact := seedContact(t, db, "grace", "Grace")
	seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Empty(t, provider.sentHandles())
	// Without steps nothing is mutated, not even completion.
	assert.Equal(t, models.CampaignStatusRunning, reloadCampaign(t, db, c.ID).Status)
	assert.Equal(t, models.RecipientStatusPending, reloadRecipient(t, db, 1).Status)
}

func TestProcessCampaignCompletesWhenNothingWorkable(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "hi")
	contact := seedContact(t, db, "henry", "Henry")
	seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusReplied, 1, nil)

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	got := reloadCampaign(t, db, c.ID)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, provider.sentHandles())
}

func TestReplyDetectedCancelsFollowUps(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "step one")
	seedStep(t, db, c.ID, 2, 1, "step two")

	contact := seedContact(t, db, "iris", "Iris")
	lastProcessed := time.Now().Add(-2 * time.Hour)
	r := seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusInProgress, 1, due())
	require.NoError(t, db.Model(&r).Update("last_processed_at", lastProcessed).Error)

	conversation := models.Conversation{AccountID: account.ID, ContactID: contact.ID}
	require.NoError(t, db.Create(&conversation).Error)
	require.NoError(t, db.Create(&models.DirectMessage{
		ConversationID: conversation.ID,
		Direction:      models.DirectionInbound,
		Body:           "sounds interesting!",
		SentAt:         time.Now().Add(-time.Hour),
	}).Error)

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))

	got := reloadRecipient(t, db, r.ID)
	assert.Equal(t, models.RecipientStatusReplied, got.Status)
	assert.Equal(t, 1, got.CurrentStepOrder)
	assert.Empty(t, provider.sentHandles())
	assert.Equal(t, 1, reloadCampaign(t, db, c.ID).ReplyCount)

	// Terminal: a later cycle leaves the recipient untouched.
	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	again := reloadRecipient(t, db, r.ID)
	assert.Equal(t, models.RecipientStatusReplied, again.Status)
	assert.Equal(t, 1, again.CurrentStepOrder)
}

func TestSendFailureIsTerminalAndContained(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "hello {{name}}")

	jack := seedContact(t, db, "jack", "Jack")
	kate := seedContact(t, db, "kate", "Kate")
	r1 := seedRecipient(t, db, c.ID, jack.ID, account.ID, models.RecipientStatusPending, 0, due())
	r2 := seedRecipient(t, db, c.ID, kate.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	provider.failHandles["jack"] = errors.New("recipient blocked the account")
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))

	got1 := reloadRecipient(t, db, r1.ID)
	assert.Equal(t, models.RecipientStatusFailed, got1.Status)
	assert.Contains(t, got1.ErrorMessage, "recipient blocked the account")
	assert.Equal(t, 0, got1.CurrentStepOrder)

	// The failure does not abort the rest of the account's loop.
	got2 := reloadRecipient(t, db, r2.ID)
	assert.Equal(t, models.RecipientStatusInProgress, got2.Status)
	assert.Equal(t, []string{"kate"}, provider.sentHandles())

	gotCampaign := reloadCampaign(t, db, c.ID)
	assert.Equal(t, 1, gotCampaign.FailedCount)
	assert.Equal(t, 1, gotCampaign.SentCount)

	// FAILED is terminal: no retry on the next cycle.
	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Equal(t, models.RecipientStatusFailed, reloadRecipient(t, db, r1.ID).Status)
	assert.Equal(t, 1, reloadCampaign(t, db, c.ID).FailedCount)
}

func TestCredentialFailureSkipsAccountForCycle(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "hi")
	contact := seedContact(t, db, "luke", "Luke")
	r := seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Empty(t, provider.sentHandles())

	// Not a terminal failure: the recipient stays eligible for next cycle.
	got := reloadRecipient(t, db, r.ID)
	assert.Equal(t, models.RecipientStatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)

	// Once the credential is back, the send goes through.
	engine = newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})
	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Equal(t, []string{"luke"}, provider.sentHandles())
}

func TestNotDueRecipientIsSkipped(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "hi")
	contact := seedContact(t, db, "mary", "Mary")
	notYet := utils.Pointer(time.Now().Add(time.Hour))
	r := seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, notYet)

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Empty(t, provider.sentHandles())
	assert.Equal(t, models.RecipientStatusPending, reloadRecipient(t, db, r.ID).Status)
}

func TestStepAdvancesByExactlyOne(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "one")
	seedStep(t, db, c.ID, 2, 0, "two")
	seedStep(t, db, c.ID, 3, 0, "three")

	contact := seedContact(t, db, "nina", "Nina")
	r := seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	// One cycle advances by exactly one step, never more, even when the
	// following steps have no delay.
	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Equal(t, 1, reloadRecipient(t, db, r.ID).CurrentStepOrder)

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Equal(t, 2, reloadRecipient(t, db, r.ID).CurrentStepOrder)

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Equal(t, 3, reloadRecipient(t, db, r.ID).CurrentStepOrder)
	assert.Len(t, provider.sentHandles(), 3)
}

func TestSequenceExhaustedCompletesRecipientAndCampaign(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "only step")

	contact := seedContact(t, db, "omar", "Omar")
	r := seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusInProgress, 1, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))

	assert.Equal(t, models.RecipientStatusCompleted, reloadRecipient(t, db, r.ID).Status)
	assert.Empty(t, provider.sentHandles())

	got := reloadCampaign(t, db, c.ID)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestLegacySingleAccountFallback(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10) // no CampaignAccount links
	require.NoError(t, db.Model(&c).Update("account_id", account.ID).Error)
	seedStep(t, db, c.ID, 1, 0, "hi {{handle}}")

	contact := seedContact(t, db, "pete", "Pete")
	seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))
	assert.Equal(t, []string{"pete"}, provider.sentHandles())
	require.Len(t, provider.sends, 1)
	assert.Equal(t, "hi pete", provider.sends[0].Text)
}

func TestStaleClaimVersionSkipsSend(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	step := seedStep(t, db, c.ID, 1, 0, "hi")
	contact := seedContact(t, db, "quinn", "Quinn")
	r := seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	// Another invocation already claimed the row.
	require.NoError(t, db.Model(&r).Update("claim_version", 1).Error)

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})

	stale := r
	stale.ClaimVersion = 0
	stale.Contact = contact
	delivered, err := engine.processRecipient(context.Background(), &c, &account, "cred-1",
		[]models.CampaignStep{step}, &stale)
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Empty(t, provider.sentHandles())
	assert.Equal(t, models.RecipientStatusPending, reloadRecipient(t, db, r.ID).Status)
}

func TestOutboundMessageRecorded(t *testing.T) {
	db := newTestDB(t)
	account := seedAccount(t, db, "sender1")
	c := seedCampaign(t, db, 10, account.ID)
	seedStep(t, db, c.ID, 1, 0, "hello {{name}}")
	contact := seedContact(t, db, "rosa", "Rosa")
	r := seedRecipient(t, db, c.ID, contact.ID, account.ID, models.RecipientStatusPending, 0, due())

	provider := newFakeProvider()
	engine := newTestEngine(db, provider, staticCreds{account.ID: "cred-1"})
	require.NoError(t, engine.ProcessCampaign(context.Background(), c.ID))

	var conversation models.Conversation
	require.NoError(t, db.Where("account_id = ? AND contact_id = ?", account.ID, contact.ID).
		First(&conversation).Error)
	assert.Equal(t, "thread-rosa", conversation.ThreadID)

	var message models.DirectMessage
	require.NoError(t, db.Where("conversation_id = ?", conversation.ID).First(&message).Error)
	assert.Equal(t, models.DirectionOutbound, message.Direction)
	assert.Equal(t, "hello Rosa", message.Body)
	require.NotNil(t, message.RecipientID)
	assert.Equal(t, r.ID, *message.RecipientID)
}
