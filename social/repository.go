package social

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SocialAccount links an account to a provider identity.
type SocialAccount struct {
	ID             uuid.UUID      `json:"id"`
	AccountID      uuid.UUID      `json:"account_id"`
	Provider       string         `json:"provider"`
	ProviderUserID string         `json:"provider_user_id"`
	Email          string         `json:"email,omitempty"`
	Name           string         `json:"name,omitempty"`
	AvatarURL      string         `json:"avatar_url,omitempty"`
	ProfileData    map[string]any `json:"profile_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Links persists provider links. Lookups that find nothing return an error
// recognised by go-repository-bun's IsRecordNotFound.
type Links interface {
	FindByProviderID(ctx context.Context, provider, providerUserID string) (*SocialAccount, error)
	FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*SocialAccount, error)
	Upsert(ctx context.Context, link *SocialAccount) error
	DeleteByAccountAndProvider(ctx context.Context, accountID uuid.UUID, provider string) error
}
