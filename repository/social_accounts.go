package repository

import (
	"context"
	"time"

	gorepo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-uas/social"
)

// SocialAccountModel is the Bun model for social_accounts.
type SocialAccountModel struct {
	bun.BaseModel `bun:"table:social_accounts,alias:sa"`

	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid"`
	AccountID      uuid.UUID      `bun:"account_id,notnull,type:uuid"`
	Provider       string         `bun:"provider,notnull"`
	ProviderUserID string         `bun:"provider_user_id,notnull"`
	Email          string         `bun:"email"`
	Name           string         `bun:"name"`
	AvatarURL      string         `bun:"avatar_url"`
	ProfileData    map[string]any `bun:"profile_data,type:jsonb"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero"`
}

// SocialAccountRepository stores provider links with Bun.
type SocialAccountRepository struct {
	db  *bun.DB
	now func() time.Time
}

var _ social.Links = (*SocialAccountRepository)(nil)

func NewSocialAccountRepository(db *bun.DB) *SocialAccountRepository {
	return &SocialAccountRepository{db: db, now: time.Now}
}

// FindByProviderID returns a go-repository-bun not found error when no link exists.
func (r *SocialAccountRepository) FindByProviderID(ctx context.Context, provider, providerUserID string) (*social.SocialAccount, error) {
	model := &SocialAccountModel{}
	err := r.db.NewSelect().
		Model(model).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.provider_user_id = ?", providerUserID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, gorepo.NewRecordNotFound().WithMetadata(map[string]any{
				"provider":         provider,
				"provider_user_id": providerUserID,
			})
		}
		return nil, err
	}
	return toSocialAccount(model), nil
}

func (r *SocialAccountRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) ([]*social.SocialAccount, error) {
	var models []SocialAccountModel
	err := r.db.NewSelect().
		Model(&models).
		Where("?TableAlias.account_id = ?", accountID.String()).
		OrderExpr("?TableAlias.provider ASC").
		Scan(ctx)
	if err != nil && !isNoRows(err) {
		return nil, err
	}

	links := make([]*social.SocialAccount, 0, len(models))
	for i := range models {
		links = append(links, toSocialAccount(&models[i]))
	}
	return links, nil
}

// Upsert inserts the link or refreshes the profile of the existing one for
// the same provider identity.
func (r *SocialAccountRepository) Upsert(ctx context.Context, link *social.SocialAccount) error {
	model := fromSocialAccount(link)
	model.UpdatedAt = r.now().UTC()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = model.UpdatedAt
	}

	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (provider, provider_user_id) DO UPDATE").
		Set("account_id = EXCLUDED.account_id").
		Set("email = EXCLUDED.email").
		Set("name = EXCLUDED.name").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("profile_data = EXCLUDED.profile_data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// DeleteByAccountAndProvider returns a not found error when nothing was linked.
func (r *SocialAccountRepository) DeleteByAccountAndProvider(ctx context.Context, accountID uuid.UUID, provider string) error {
	res, err := r.db.NewDelete().
		Model((*SocialAccountModel)(nil)).
		Where("account_id = ?", accountID.String()).
		Where("provider = ?", provider).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return gorepo.NewRecordNotFound().WithMetadata(map[string]any{
			"account_id": accountID.String(),
			"provider":   provider,
		})
	}
	return nil
}

func toSocialAccount(m *SocialAccountModel) *social.SocialAccount {
	return &social.SocialAccount{
		ID:             m.ID,
		AccountID:      m.AccountID,
		Provider:       m.Provider,
		ProviderUserID: m.ProviderUserID,
		Email:          m.Email,
		Name:           m.Name,
		AvatarURL:      m.AvatarURL,
		ProfileData:    m.ProfileData,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromSocialAccount(a *social.SocialAccount) *SocialAccountModel {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	profile := a.ProfileData
	if profile == nil {
		profile = map[string]any{}
	}

	return &SocialAccountModel{
		ID:             id,
		AccountID:      a.AccountID,
		Provider:       a.Provider,
		ProviderUserID: a.ProviderUserID,
		Email:          a.Email,
		Name:           a.Name,
		AvatarURL:      a.AvatarURL,
		ProfileData:    profile,
		CreatedAt:      a.CreatedAt.UTC(),
		UpdatedAt:      a.UpdatedAt.UTC(),
	}
}
