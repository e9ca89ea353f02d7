package github

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/goliatone/go-uas/social"
)

const (
	Name             = "github"
	defaultUserURL   = "https://api.github.com/user"
	defaultEmailsURL = "https://api.github.com/user/emails"
)

// Config holds GitHub OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string

	HTTPClient *http.Client
}

func DefaultScopes() []string {
	return []string{"user:email", "read:user"}
}

// Provider implements social.Provider for GitHub. GitHub only vouches for
// an email through the emails endpoint, so UserInfo calls both.
type Provider struct {
	oauth      *oauth2.Config
	userURL    string
	emailsURL  string
	httpClient *http.Client
}

var _ social.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}

	endpoint := endpoints.GitHub
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	if cfg.EmailsURL == "" {
		cfg.EmailsURL = defaultEmailsURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		userURL:    cfg.UserURL,
		emailsURL:  cfg.EmailsURL,
		httpClient: client,
	}
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	applied := social.ApplyAuthCodeOptions(p.oauth.Scopes, opts...)

	cfg := *p.oauth
	cfg.Scopes = applied.Scopes
	return cfg.AuthCodeURL(state, applied.OAuth2Options()...)
}

func (p *Provider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	applied := social.ApplyExchangeOptions(opts...)

	tok, err := p.oauth.Exchange(social.OAuth2Context(ctx, p.httpClient), code, applied.OAuth2Options()...)
	if err != nil {
		return nil, social.NewProviderError(Name, "exchange", err)
	}
	return social.TokenFromOAuth2(tok), nil
}

func (p *Provider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	client := p.oauth.Client(social.OAuth2Context(ctx, p.httpClient), token.OAuth2())

	var user githubUser
	if err := social.FetchJSON(ctx, client, Name, p.userURL, &user); err != nil {
		return nil, err
	}

	var emails []githubEmail
	if err := social.FetchJSON(ctx, client, Name, p.emailsURL, &emails); err != nil {
		return nil, err
	}

	email, verified := primaryEmail(emails)
	return mapProfile(&user, email, verified), nil
}

// primaryEmail prefers the verified primary address, then any verified one.
func primaryEmail(emails []githubEmail) (string, bool) {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, true
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, true
		}
	}
	for _, e := range emails {
		if e.Primary {
			return e.Email, false
		}
	}
	return "", false
}
