package social

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Provider is an OAuth2 identity provider that can vouch for an email.
type Provider interface {
	// Name returns the provider identifier, e.g. "google".
	Name() string

	// AuthCodeURL returns the consent page URL carrying state.
	AuthCodeURL(state string, opts ...AuthCodeOption) string

	// Exchange trades an authorization code for a provider token.
	Exchange(ctx context.Context, code string, opts ...ExchangeOption) (*Token, error)

	// UserInfo fetches the normalized profile for token.
	UserInfo(ctx context.Context, token *Token) (*Profile, error)
}

// AuthCodeOption configures the authorization URL.
type AuthCodeOption func(*AuthCodeConfig)

// WithScopes appends scopes to the provider defaults.
func WithScopes(scopes ...string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Scopes = append(c.Scopes, scopes...)
	}
}

// WithPKCE sets the S256 code challenge.
func WithPKCE(codeChallenge string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.CodeChallenge = codeChallenge
	}
}

// WithPrompt sets the prompt parameter, e.g. "select_account".
func WithPrompt(prompt string) AuthCodeOption {
	return func(c *AuthCodeConfig) {
		c.Prompt = prompt
	}
}

// ExchangeOption configures the token exchange.
type ExchangeOption func(*ExchangeConfig)

// WithCodeVerifier sets the PKCE code verifier.
func WithCodeVerifier(verifier string) ExchangeOption {
	return func(c *ExchangeConfig) {
		c.CodeVerifier = verifier
	}
}

// AuthCodeConfig is the applied form of AuthCodeOption values.
type AuthCodeConfig struct {
	Scopes        []string
	CodeChallenge string
	Prompt        string
}

// OAuth2Options renders the config as x/oauth2 URL parameters.
func (c AuthCodeConfig) OAuth2Options() []oauth2.AuthCodeOption {
	var opts []oauth2.AuthCodeOption
	if c.CodeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", c.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	if c.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", c.Prompt))
	}
	return opts
}

// ExchangeConfig is the applied form of ExchangeOption values.
type ExchangeConfig struct {
	CodeVerifier string
}

// OAuth2Options renders the config as x/oauth2 exchange parameters.
func (c ExchangeConfig) OAuth2Options() []oauth2.AuthCodeOption {
	if c.CodeVerifier == "" {
		return nil
	}
	return []oauth2.AuthCodeOption{oauth2.VerifierOption(c.CodeVerifier)}
}

// ApplyAuthCodeOptions applies opts on top of the provider scopes.
func ApplyAuthCodeOptions(scopes []string, opts ...AuthCodeOption) AuthCodeConfig {
	cfg := AuthCodeConfig{Scopes: append([]string(nil), scopes...)}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func ApplyExchangeOptions(opts ...ExchangeOption) ExchangeConfig {
	cfg := ExchangeConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Token is the provider token. It is only used to fetch the profile and
// is never persisted.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	oauth       *oauth2.Token
}

// TokenFromOAuth2 wraps an x/oauth2 token.
func TokenFromOAuth2(tok *oauth2.Token) *Token {
	if tok == nil {
		return nil
	}
	return &Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
		ExpiresAt:   tok.Expiry,
		oauth:       tok,
	}
}

// OAuth2 returns the x/oauth2 form of the token.
func (t *Token) OAuth2() *oauth2.Token {
	if t == nil {
		return nil
	}
	if t.oauth != nil {
		return t.oauth
	}
	return &oauth2.Token{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		Expiry:      t.ExpiresAt,
	}
}

// Profile is the normalized user information returned by a provider.
type Profile struct {
	ProviderUserID string
	Provider       string
	Email          string
	EmailVerified  bool
	Name           string
	Username       string
	AvatarURL      string
	Raw            map[string]any
}
