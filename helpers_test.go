package uas_test

import (
	"context"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-uas"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
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

// mailbox captures outgoing messages.
type mailbox struct {
	mu       sync.Mutex
	messages []uas.EmailMessage
}

func (m *mailbox) Send(_ context.Context, msg uas.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mailbox) last(t *testing.T, template string) uas.EmailMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Template == template {
			return m.messages[i]
		}
	}
	t.Fatalf("no %q email was sent", template)
	return uas.EmailMessage{}
}

func (m *mailbox) count(template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.Template == template {
			n++
		}
	}
	return n
}

// tokenFromLink pulls the token out of the last path segment of an email link.
func tokenFromLink(t *testing.T, msg uas.EmailMessage, key string) string {
	t.Helper()
	link, ok := msg.Data[key].(string)
	require.True(t, ok, "email data has no %s", key)
	u, err := url.Parse(link)
	require.NoError(t, err)
	token, err := url.PathUnescape(path.Base(u.Path))
	require.NoError(t, err)
	return token
}

type capturingSink struct {
	mu     sync.Mutex
	events []uas.ActivityEvent
}

func (c *capturingSink) Record(_ context.Context, evt uas.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []uas.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uas.ActivityEventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

// MockDenylist implements uas.Denylist
type MockDenylist struct {
	mock.Mock
}

func (m *MockDenylist) Deny(ctx context.Context, tokenID string, ttl time.Duration) error {
	args := m.Called(ctx, tokenID, ttl)
	return args.Error(0)
}

func (m *MockDenylist) IsDenied(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

type testEnv struct {
	db     *bun.DB
	repo   uas.RepositoryManager
	opts   uas.Options
	clock  *testClock
	mail   *mailbox
	sink   *capturingSink
	auther *uas.Auther
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	db, err := uas.OpenDB(uas.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, uas.Migrate(context.Background(), db))
	return db
}

func testOptions() uas.Options {
	opts := uas.DefaultOptions()
	opts.SigningKey = testSigningKey
	opts.BcryptCost = bcrypt.MinCost
	return opts
}

func newTestEnv(t *testing.T, configure func(*uas.Options), extra ...uas.AutherOption) *testEnv {
	t.Helper()

	env := &testEnv{
		db:    newTestDB(t),
		opts:  testOptions(),
		clock: newTestClock(),
		mail:  &mailbox{},
		sink:  &capturingSink{},
	}
	if configure != nil {
		configure(&env.opts)
	}
	require.NoError(t, env.opts.Validate())

	env.repo = uas.NewRepositoryManager(env.db)

	opts := []uas.AutherOption{
		uas.WithClock(env.clock.Now),
		uas.WithEmailSender(env.mail),
		uas.WithEmailDispatcher(func(job func()) { job() }),
		uas.WithActivitySink(env.sink),
		uas.WithLogger(uas.NoopLogger()),
	}
	env.auther = uas.NewAuther(env.repo, env.opts, append(opts, extra...)...)
	return env
}

var laptop = uas.DeviceContext{UserAgent: "Mozilla/5.0 (Macintosh) Firefox/124.0", IPAddress: "10.0.0.1"}
var phone = uas.DeviceContext{UserAgent: "Mozilla/5.0 (iPhone) Safari/17.0", IPAddress: "10.0.0.2"}

// registerVerified registers an account and completes email verification.
func (e *testEnv) registerVerified(t *testing.T, email, username, password string) *uas.Account {
	t.Helper()
	ctx := context.Background()

	_, err := e.auther.Register(ctx, uas.RegisterAccountMessage{
		Email:    email,
		Username: username,
		Password: password,
	}, laptop)
	require.NoError(t, err)

	token := tokenFromLink(t, e.mail.last(t, uas.EmailTemplateVerify), "verification_link")
	account, err := e.auther.VerifyEmail(ctx, token)
	require.NoError(t, err)
	return account
}

func (e *testEnv) makeAdmin(t *testing.T, account *uas.Account) {
	t.Helper()
	_, err := e.repo.Accounts().UpdateRoleTx(context.Background(), e.db, account.ID, uas.RoleAdmin, e.clock.Now())
	require.NoError(t, err)
}

func (e *testEnv) login(t *testing.T, email, password string, device uas.DeviceContext) *uas.TokenPair {
	t.Helper()
	pair, err := e.auther.Authenticate(context.Background(), email, password, device)
	require.NoError(t, err)
	return pair
}

func (e *testEnv) claims(t *testing.T, pair *uas.TokenPair) *uas.Claims {
	t.Helper()
	claims, err := e.auther.ClaimsFromToken(context.Background(), pair.Access.Value)
	require.NoError(t, err)
	return claims
}

func (e *testEnv) account(t *testing.T, email string) *uas.Account {
	t.Helper()
	account, err := e.repo.Accounts().FindByEmail(context.Background(), strings.ToUpper(email))
	require.NoError(t, err)
	return account
}
