package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sendloop/models"
	"sendloop/utils"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// ErrNoCredential is returned when an account has no usable credential.
var ErrNoCredential = errors.New("no credential available for account")

// SendResult is what the messaging provider reports for a delivered message.
type SendResult struct {
	ProviderMessageID string
	ThreadID          string
}

// InboundMessage is one message pulled from a provider inbox during sync.
type InboundMessage struct {
	FromHandle        string
	Body              string
	ProviderMessageID string
	ThreadID          string
	SentAt            time.Time
}

// MessagingProvider is the transport collaborator. A returned error from
// SendDirectMessage is a provider-reported send failure; timeouts surface
// the same way.
type MessagingProvider interface {
	SendDirectMessage(ctx context.Context, credential, handle, text string) (*SendResult, error)
	FetchInbox(ctx context.Context, credential string, since time.Time) ([]InboundMessage, error)
}

// CredentialStore resolves the provider credential for a sending account.
type CredentialStore interface {
	GetCredential(accountID uint) (string, error)
}

// DBCredentialStore reads credentials from the sending_accounts table,
// decrypting them with the application key.
type DBCredentialStore struct {
	DB *gorm.DB
}

func NewDBCredentialStore(db *gorm.DB) *DBCredentialStore {
	return &DBCredentialStore{DB: db}
}

func (s *DBCredentialStore) GetCredential(accountID uint) (string, error) {
	var account models.SendingAccount
	if err := s.DB.First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNoCredential
		}
		return "", err
	}
	if !account.IsActive || account.CredentialCipher == "" {
		return "", ErrNoCredential
	}
	credential, err := utils.Decrypt(account.CredentialCipher)
	if err != nil {
		return "", fmt.Errorf("decrypt credential for account %d: %w", accountID, err)
	}
	return credential, nil
}

// CredentialCache wraps a CredentialStore with TTL eviction so the engine
// does not hit the store (and decryption) on every recipient. Failures are
// never cached.
type CredentialCache struct {
	store CredentialStore
	cache *gocache.Cache
}

func NewCredentialCache(store CredentialStore, ttl time.Duration) *CredentialCache {
	return &CredentialCache{
		store: store,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (c *CredentialCache) GetCredential(accountID uint) (string, error) {
	key := fmt.Sprintf("cred:%d", accountID)
	if cached, found := c.cache.Get(key); found {
		return cached.(string), nil
	}
	credential, err := c.store.GetCredential(accountID)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(key, credential)
	return credential, nil
}

// Invalidate drops a cached credential, used after an account is re-linked.
func (c *CredentialCache) Invalidate(accountID uint) {
	c.cache.Delete(fmt.Sprintf("cred:%d", accountID))
}
