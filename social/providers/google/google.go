package google

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/goliatone/go-uas/social"
)

const (
	Name               = "google"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// Config holds Google OAuth configuration. The URL fields override the
// public Google endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements social.Provider for Google.
type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

var _ social.Provider = (*Provider)(nil)

func New(cfg Config) *Provider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}

	endpoint := endpoints.Google
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
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
		userInfoURL: cfg.UserInfoURL,
		httpClient:  client,
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

	var info userInfo
	if err := social.FetchJSON(ctx, client, Name, p.userInfoURL, &info); err != nil {
		return nil, err
	}
	return mapProfile(&info), nil
}
