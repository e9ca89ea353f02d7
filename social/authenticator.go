package social

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"

	"github.com/goliatone/go-uas"
)

// Authenticator runs the OAuth round trip and hands the vouched identity
// to the core login flow.
type Authenticator struct {
	auther    *uas.Auther
	links     Links
	providers map[string]Provider
	state     StateManager
	config    Config
	logger    uas.Logger
	now       func() time.Time
}

// Config configures the social authenticator.
type Config struct {
	// DefaultRedirectURL is used when BeginAuth gets no redirect.
	DefaultRedirectURL string
	StateEncryptionKey []byte
	StateHMACKey       []byte
	StateTTL           time.Duration
	// Prompt is forwarded to providers that support it.
	Prompt string
}

type Option func(*Authenticator)

// WithProvider registers a provider under its name.
func WithProvider(provider Provider) Option {
	return func(a *Authenticator) {
		if provider != nil {
			a.providers[provider.Name()] = provider
		}
	}
}

func WithStateManager(sm StateManager) Option {
	return func(a *Authenticator) {
		if sm != nil {
			a.state = sm
		}
	}
}

func WithLogger(logger uas.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator builds the social authenticator on top of auther.
func NewAuthenticator(auther *uas.Auther, links Links, cfg Config, opts ...Option) *Authenticator {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}

	a := &Authenticator{
		auther:    auther,
		links:     links,
		providers: make(map[string]Provider),
		config:    cfg,
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	if a.logger == nil {
		_, a.logger = uas.ResolveLogger("uas:social", nil, nil)
	}

	if a.state == nil {
		a.state = NewEncryptedStateManager(cfg.StateEncryptionKey, cfg.StateHMACKey, cfg.StateTTL).
			WithClock(a.now)
	}

	return a
}

// Providers returns the registered provider names in order.
func (a *Authenticator) Providers() []string {
	names := make([]string, 0, len(a.providers))
	for name := range a.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AuthRedirect is where to send the browser to start a provider login.
type AuthRedirect struct {
	URL      string
	State    string
	Provider string
}

// AuthResult is the outcome of a completed provider login.
type AuthResult struct {
	Pair        *uas.TokenPair
	Created     bool
	Provider    string
	Profile     *Profile
	RedirectURL string
}

// BeginAuth builds the provider consent URL. The returned state token
// carries the PKCE verifier and the post-login redirect.
func (a *Authenticator) BeginAuth(ctx context.Context, providerName, redirectURL string) (*AuthRedirect, error) {
	provider, ok := a.providers[providerName]
	if !ok {
		return nil, ErrProviderNotFound.Clone().WithMetadata(map[string]any{"provider": providerName})
	}

	redirect, err := a.safeRedirect(redirectURL)
	if err != nil {
		return nil, err
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate code verifier").
			WithTextCode(uas.TextCodeServerError)
	}

	now := a.now()
	token, err := a.state.Encode(&OAuthState{
		Provider:     providerName,
		CodeVerifier: verifier,
		RedirectURL:  redirect,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(a.config.StateTTL).Unix(),
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode oauth state").
			WithTextCode(uas.TextCodeServerError)
	}

	opts := []AuthCodeOption{WithPKCE(computeCodeChallenge(verifier))}
	if a.config.Prompt != "" {
		opts = append(opts, WithPrompt(a.config.Prompt))
	}

	a.logger.Debug("social auth started", "provider", providerName)

	return &AuthRedirect{
		URL:      provider.AuthCodeURL(token, opts...),
		State:    token,
		Provider: providerName,
	}, nil
}

// CompleteAuth validates the callback, exchanges the code and logs the
// provider identity in, creating the account on first use.
func (a *Authenticator) CompleteAuth(ctx context.Context, providerName, code, stateToken string, device uas.DeviceContext) (*AuthResult, error) {
	state, err := a.state.Decode(stateToken)
	if err != nil {
		if uas.HasTextCode(err, TextCodeStateExpired) {
			return nil, ErrStateExpired
		}
		return nil, ErrInvalidState
	}

	if state.Provider != providerName {
		return nil, ErrInvalidState.Clone().WithMetadata(map[string]any{"reason": "provider mismatch"})
	}

	provider, ok := a.providers[providerName]
	if !ok {
		return nil, ErrProviderNotFound.Clone().WithMetadata(map[string]any{"provider": providerName})
	}

	if strings.TrimSpace(code) == "" {
		return nil, ErrTokenExchangeFailed.Clone().WithMetadata(map[string]any{"reason": "missing code"})
	}

	token, err := provider.Exchange(ctx, code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		a.logger.Warn("provider token exchange failed", "provider", providerName, "error", err)
		return nil, wrapProviderError(ErrTokenExchangeFailed, providerName, "exchange", err)
	}

	profile, err := provider.UserInfo(ctx, token)
	if err != nil {
		a.logger.Warn("provider user info failed", "provider", providerName, "error", err)
		return nil, wrapProviderError(ErrUserInfoFailed, providerName, "user_info", err)
	}

	if !profile.EmailVerified || strings.TrimSpace(profile.Email) == "" {
		return nil, ErrEmailNotVerified.Clone().WithMetadata(map[string]any{"provider": providerName})
	}

	identity := uas.ProviderIdentity{
		Provider:      providerName,
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		Name:          profile.Name,
		Username:      profile.Username,
	}

	link, err := a.links.FindByProviderID(ctx, providerName, profile.ProviderUserID)
	switch {
	case err == nil && link != nil:
		identity.AccountID = link.AccountID
	case err != nil && !repository.IsRecordNotFound(err):
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up provider link").
			WithCode(goerrors.CodeInternal).
			WithTextCode(uas.TextCodeServerError)
	}

	pair, created, err := a.auther.LoginWithProvider(ctx, identity, device)
	if err != nil {
		return nil, err
	}

	a.saveLink(ctx, link, pair.Account.ID, profile)

	return &AuthResult{
		Pair:        pair,
		Created:     created,
		Provider:    providerName,
		Profile:     profile,
		RedirectURL: state.RedirectURL,
	}, nil
}

// Unlink removes the caller's link to provider. The account keeps its
// password login.
func (a *Authenticator) Unlink(ctx context.Context, claims *uas.Claims, providerName string) error {
	if claims == nil {
		return uas.ErrUnauthorized
	}
	if err := a.links.DeleteByAccountAndProvider(ctx, claims.AccountID, providerName); err != nil {
		if repository.IsRecordNotFound(err) {
			return uas.ErrNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to unlink provider").
			WithCode(goerrors.CodeInternal).
			WithTextCode(uas.TextCodeServerError)
	}
	return nil
}

// Linked lists the providers linked to the caller's account.
func (a *Authenticator) Linked(ctx context.Context, claims *uas.Claims) ([]*SocialAccount, error) {
	if claims == nil {
		return nil, uas.ErrUnauthorized
	}
	links, err := a.links.FindByAccountID(ctx, claims.AccountID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list provider links").
			WithCode(goerrors.CodeInternal).
			WithTextCode(uas.TextCodeServerError)
	}
	return links, nil
}

// saveLink records the provider identity against the account. The login has
// already committed, so a failure here is logged and the next login falls
// back to matching by email.
func (a *Authenticator) saveLink(ctx context.Context, existing *SocialAccount, accountID uuid.UUID, profile *Profile) {
	now := a.now()
	link := &SocialAccount{
		ID:             uuid.New(),
		AccountID:      accountID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		Name:           profile.Name,
		AvatarURL:      profile.AvatarURL,
		ProfileData:    profile.Raw,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
	}

	if err := a.links.Upsert(ctx, link); err != nil {
		a.logger.Warn("failed to save provider link",
			"provider", profile.Provider,
			"account_id", accountID.String(),
			"error", err,
		)
	}
}

// safeRedirect accepts local paths and absolute URLs on the frontend host.
func (a *Authenticator) safeRedirect(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return a.config.DefaultRedirectURL, nil
	}

	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		return raw, nil
	}

	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		return "", invalidRedirect(raw)
	}

	frontend, err := url.Parse(a.auther.Config().GetFrontendURL())
	if err != nil || !strings.EqualFold(frontend.Host, target.Host) || frontend.Scheme != target.Scheme {
		return "", invalidRedirect(raw)
	}
	return raw, nil
}

func invalidRedirect(raw string) error {
	return goerrors.New("redirect url is not allowed", goerrors.CategoryBadInput).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(uas.TextCodeValidation).
		WithMetadata(map[string]any{"redirect_url": raw})
}
