package campaign

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sendloop/models"
	"sendloop/utils"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type fakeSend struct {
	Credential string
	Handle     string
	Text       string
}

// fakeProvider records sends and can be scripted to fail per handle.
type fakeProvider struct {
	mu          sync.Mutex
	sends       []fakeSend
	failHandles map[string]error
	inbox       []InboundMessage
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{failHandles: make(map[string]error)}
}

func (f *fakeProvider) SendDirectMessage(_ context.Context, credential, handle, text string) (*SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failHandles[handle]; ok {
		return nil, err
	}
	f.sends = append(f.sends, fakeSend{Credential: credential, Handle: handle, Text: text})
	return &SendResult{
		ProviderMessageID: fmt.Sprintf("msg-%d", len(f.sends)),
		ThreadID:          "thread-" + handle,
	}, nil
}

func (f *fakeProvider) FetchInbox(_ context.Context, _ string, _ time.Time) ([]InboundMessage, error) {
	return f.inbox, nil
}

func (f *fakeProvider) sentHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := make([]string, len(f.sends))
	for i, s := range f.sends {
		handles[i] = s.Handle
	}
	return handles
}

// staticCreds maps account ids to credentials; missing accounts error.
type staticCreds map[uint]string

func (s staticCreds) GetCredential(accountID uint) (string, error) {
	credential, ok := s[accountID]
	if !ok {
		return "", ErrNoCredential
	}
	return credential, nil
}

func newTestEngine(db *gorm.DB, p MessagingProvider, creds CredentialStore) *Engine {
	return NewEngine(db, p, creds, 0)
}

func seedAccount(t *testing.T, db *gorm.DB, handle string) models.SendingAccount {
	t.Helper()
	account := models.SendingAccount{UserID: 1, Handle: handle, IsActive: true}
	require.NoError(t, db.Create(&account).Error)
	return account
}

func seedContact(t *testing.T, db *gorm.DB, handle, displayName string) models.Contact {
	t.Helper()
	contact := models.Contact{UserID: 1, Handle: handle, DisplayName: displayName}
	require.NoError(t, db.Create(&contact).Error)
	return contact
}

func seedCampaign(t *testing.T, db *gorm.DB, messagesPerDay int, accountIDs ...uint) models.Campaign {
	t.Helper()
	c := models.Campaign{
		UserID:         1,
		Name:           "test campaign",
		Status:         models.CampaignStatusRunning,
		MessagesPerDay: messagesPerDay,
		StartedAt:      utils.Pointer(time.Now().Add(-time.Hour)),
	}
	require.NoError(t, db.Create(&c).Error)
	for _, accountID := range accountIDs {
		require.NoError(t, db.Create(&models.CampaignAccount{
			CampaignID: c.ID,
			AccountID:  accountID,
		}).Error)
	}
	return c
}

func seedStep(t *testing.T, db *gorm.DB, campaignID uint, order, delayDays int, body string, variants ...string) models.CampaignStep {
	t.Helper()
	step := models.CampaignStep{
		CampaignID: campaignID,
		StepOrder:  order,
		DelayDays:  delayDays,
		Body:       body,
	}
	require.NoError(t, db.Create(&step).Error)
	for _, v := range variants {
		require.NoError(t, db.Create(&models.StepVariant{StepID: step.ID, Body: v}).Error)
	}
	return step
}

func seedRecipient(t *testing.T, db *gorm.DB, campaignID, contactID, accountID uint, status string, stepOrder int, nextActionAt *time.Time) models.CampaignRecipient {
	t.Helper()
	r := models.CampaignRecipient{
		CampaignID:        campaignID,
		ContactID:         contactID,
		AssignedAccountID: accountID,
		Status:            status,
		CurrentStepOrder:  stepOrder,
		NextActionAt:      nextActionAt,
	}
	require.NoError(t, db.Create(&r).Error)
	return r
}

func reloadRecipient(t *testing.T, db *gorm.DB, id uint) models.CampaignRecipient {
	t.Helper()
	var r models.CampaignRecipient
	require.NoError(t, db.First(&r, id).Error)
	return r
}

func reloadCampaign(t *testing.T, db *gorm.DB, id uint) models.Campaign {
	t.Helper()
	var c models.Campaign
	require.NoError(t, db.First(&c, id).Error)
	return c
}

func due() *time.Time {
	return utils.Pointer(time.Now().Add(-time.Minute))
}
