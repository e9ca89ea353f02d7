package social_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/goliatone/go-uas"
	"github.com/goliatone/go-uas/repository"
	"github.com/goliatone/go-uas/social"
)

var (
	stateEncKey  = []byte("0123456789abcdef0123456789abcdef")
	stateHMACKey = []byte("fedcba9876543210fedcba9876543210")
	browser      = uas.DeviceContext{UserAgent: "Mozilla/5.0 (Macintosh) Firefox/124.0", IPAddress: "10.0.0.1"}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider plays the provider side of the code flow. Exchange only
// succeeds when the verifier matches the challenge sent on AuthCodeURL.
type fakeProvider struct {
	name string

	mu          sync.Mutex
	profile     social.Profile
	challenge   string
	exchangeErr error
}

func newFakeProvider(name string, profile social.Profile) *fakeProvider {
	profile.Provider = name
	return &fakeProvider{name: name, profile: profile}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	cfg := social.ApplyAuthCodeOptions(nil, opts...)
	p.mu.Lock()
	p.challenge = cfg.CodeChallenge
	p.mu.Unlock()

	q := url.Values{"state": {state}, "code_challenge": {cfg.CodeChallenge}}
	return "https://provider.test/authorize?" + q.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}

	cfg := social.ApplyExchangeOptions(opts...)
	sum := sha256.Sum256([]byte(cfg.CodeVerifier))
	if code != "good-code" || base64.RawURLEncoding.EncodeToString(sum[:]) != p.challenge {
		return nil, &social.ProviderError{Provider: p.name, Operation: "exchange", Code: "invalid_grant"}
	}
	return &social.Token{AccessToken: "provider-token", TokenType: "Bearer"}, nil
}

func (p *fakeProvider) UserInfo(context.Context, *social.Token) (*social.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	profile := p.profile
	return &profile, nil
}

func (p *fakeProvider) setProfile(fn func(*social.Profile)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.profile)
}

type socialEnv struct {
	clock    *testClock
	manager  *repository.Manager
	auther   *uas.Auther
	provider *fakeProvider
	social   *social.Authenticator
}

func newSocialEnv(t *testing.T) *socialEnv {
	t.Helper()

	db, err := uas.OpenDB(uas.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, uas.Migrate(context.Background(), db))

	opts := uas.DefaultOptions()
	opts.SigningKey = "0123456789abcdef0123456789abcdef"
	opts.BcryptCost = bcrypt.MinCost
	require.NoError(t, opts.Validate())

	env := &socialEnv{
		clock:   &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		manager: repository.NewManager(db),
		provider: newFakeProvider("fake", social.Profile{
			ProviderUserID: "fake-1",
			Email:          "pat@example.com",
			EmailVerified:  true,
			Name:           "Pat Doe",
			Username:       "pat",
			Raw:            map[string]any{"locale": "en"},
		}),
	}

	env.auther = uas.NewAuther(env.manager, opts,
		uas.WithClock(env.clock.Now),
		uas.WithLogger(uas.NoopLogger()),
		uas.WithEmailDispatcher(func(job func()) { job() }),
	)

	env.social = social.NewAuthenticator(env.auther, env.manager.SocialAccounts(), social.Config{
		DefaultRedirectURL: "/",
		StateEncryptionKey: stateEncKey,
		StateHMACKey:       stateHMACKey,
		StateTTL:           10 * time.Minute,
	},
		social.WithProvider(env.provider),
		social.WithClock(env.clock.Now),
		social.WithLogger(uas.NoopLogger()),
	)
	return env
}

// begin starts a flow and returns the state the provider would echo back.
func (e *socialEnv) begin(t *testing.T, redirect string) string {
	t.Helper()
	r, err := e.social.BeginAuth(context.Background(), "fake", redirect)
	require.NoError(t, err)

	u, err := url.Parse(r.URL)
	require.NoError(t, err)
	require.Equal(t, r.State, u.Query().Get("state"))
	return r.State
}

func (e *socialEnv) login(t *testing.T) *social.AuthResult {
	t.Helper()
	state := e.begin(t, "")
	result, err := e.social.CompleteAuth(context.Background(), "fake", "good-code", state, browser)
	require.NoError(t, err)
	return result
}
