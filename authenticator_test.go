package uas_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-uas"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesPendingAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	account, err := env.auther.Register(ctx, uas.RegisterAccountMessage{
		Email:    "A@X.com",
		Username: "alice",
		Password: "secret1",
	}, laptop)
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", account.Email)
	assert.False(t, account.IsActive)
	assert.False(t, account.IsVerified)
	assert.Equal(t, uas.RoleUser, account.Role)
	assert.NotEqual(t, "secret1", account.PasswordHash)

	msg := env.mail.last(t, uas.EmailTemplateVerify)
	assert.Equal(t, "a@x.com", msg.To)
	assert.Contains(t, msg.Data["verification_link"], "http://localhost:3000/auth/verify-email/")

	_, err = env.auther.Authenticate(ctx, "a@x.com", "secret1", laptop)
	assert.True(t, uas.IsInvalidCredentials(err), "unverified accounts can not log in: %v", err)

	// not counted as a password failure
	assert.Equal(t, 0, env.account(t, "a@x.com").FailedLoginAttempts)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerVerified(t, "a@x.com", "alice", "secret1")

	tests := []struct {
		name string
		msg  uas.RegisterAccountMessage
	}{
		{
			name: "same email different case",
			msg:  uas.RegisterAccountMessage{Email: "A@X.COM", Username: "alice2", Password: "secret1"},
		},
		{
			name: "same username",
			msg:  uas.RegisterAccountMessage{Email: "b@x.com", Username: "alice", Password: "secret1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auther.Register(ctx, tt.msg, laptop)
			assert.True(t, uas.IsDuplicateAccount(err), "got %v", err)
		})
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	env := newTestEnv(t, func(o *uas.Options) {
		o.BlockedEmailDomains = []string{"example.com"}
	})

	tests := []struct {
		name string
		msg  uas.RegisterAccountMessage
	}{
		{"short password", uas.RegisterAccountMessage{Email: "a@x.com", Username: "alice", Password: "12345"}},
		{"bad email", uas.RegisterAccountMessage{Email: "not-an-email", Username: "alice", Password: "secret1"}},
		{"non alphanumeric username", uas.RegisterAccountMessage{Email: "a@x.com", Username: "al ice", Password: "secret1"}},
		{"blocked domain", uas.RegisterAccountMessage{Email: "a@Example.com", Username: "alice", Password: "secret1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auther.Register(context.Background(), tt.msg, laptop)
			require.Error(t, err)
			assert.True(t, uas.HasTextCode(err, uas.TextCodeValidation), "got %v", err)
		})
	}
}

func TestVerifyEmail(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.auther.Register(ctx, uas.RegisterAccountMessage{Email: "a@x.com", Username: "alice", Password: "secret1"}, laptop)
	require.NoError(t, err)
	token := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateVerify), "verification_link")

	account, err := env.auther.VerifyEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, account.IsActive)
	assert.True(t, account.IsVerified)
	assert.Equal(t, 1, env.mail.count(uas.EmailTemplateAccountVerified))

	_, err = env.auther.VerifyEmail(ctx, token)
	require.NoError(t, err, "verifying twice is harmless")
	assert.Equal(t, 1, env.mail.count(uas.EmailTemplateAccountVerified))

	t.Run("expired token", func(t *testing.T) {
		_, err := env.auther.Register(ctx, uas.RegisterAccountMessage{Email: "b@x.com", Username: "bob", Password: "secret1"}, laptop)
		require.NoError(t, err)
		token := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateVerify), "verification_link")

		env.clock.Advance(env.opts.VerifyTokenTTL + time.Second)
		_, err = env.auther.VerifyEmail(ctx, token)
		assert.True(t, uas.IsTokenInvalid(err))
	})

	t.Run("access token is the wrong kind", func(t *testing.T) {
		pair := env.login(t, "a@x.com", "secret1", laptop)
		_, err := env.auther.VerifyEmail(ctx, pair.Access.Value)
		assert.True(t, uas.HasTextCode(err, uas.TextCodeTokenWrongKind), "got %v", err)
	})

	t.Run("account no longer exists", func(t *testing.T) {
		_, err := env.auther.Register(ctx, uas.RegisterAccountMessage{Email: "c@x.com", Username: "carol", Password: "secret1"}, laptop)
		require.NoError(t, err)
		token := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateVerify), "verification_link")

		carol := env.account(t, "c@x.com")
		require.NoError(t, env.auther.DeleteAccount(ctx, &uas.Claims{AccountID: carol.ID, Role: uas.RoleUser}, carol.ID))

		_, err = env.auther.VerifyEmail(ctx, token)
		assert.True(t, uas.IsTokenInvalid(err))
	})
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.auther.Register(ctx, uas.RegisterAccountMessage{Email: "a@x.com", Username: "alice", Password: "secret1"}, laptop)
	require.NoError(t, err)

	require.NoError(t, env.auther.ResendVerification(ctx, "A@x.com"))
	assert.Equal(t, 2, env.mail.count(uas.EmailTemplateVerify))

	require.NoError(t, env.auther.ResendVerification(ctx, "nobody@x.com"))
	assert.Equal(t, 2, env.mail.count(uas.EmailTemplateVerify))
}

func TestAuthenticateScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerVerified(t, "a@x.com", "alice", "secret1")

	pair, err := env.auther.Authenticate(ctx, "a@x.com", "secret1", laptop)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Access.Value)
	assert.NotEmpty(t, pair.Refresh.Value)
	assert.Equal(t, uas.TokenKindAccess, pair.Access.Kind)
	assert.Equal(t, uas.TokenKindRefresh, pair.Refresh.Kind)
	assert.NotEqual(t, uuid.Nil, pair.SessionID)
	require.NotNil(t, pair.Account.LastLogin)

	claims := env.claims(t, pair)
	assert.Equal(t, uas.RoleUser, claims.Role)
	assert.Equal(t, pair.SessionID, claims.SessionID)

	_, err = env.auther.Authenticate(ctx, "a@x.com", "wrongpw", laptop)
	assert.True(t, uas.IsInvalidCredentials(err))
	assert.Equal(t, 1, env.account(t, "a@x.com").FailedLoginAttempts)
}

func TestAuthenticateSameErrorForUnknownAndWrongPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerVerified(t, "a@x.com", "alice", "secret1")

	_, unknown := env.auther.Authenticate(ctx, "ghost@x.com", "secret1", laptop)
	_, wrong := env.auther.Authenticate(ctx, "a@x.com", "nope123", laptop)

	require.Error(t, unknown)
	require.Error(t, wrong)
	assert.Equal(t, unknown.Error(), wrong.Error())
	assert.Equal(t, uas.PublicError(unknown), uas.PublicError(wrong))
}

func TestAuthenticateProducesDistinctTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	first := env.login(t, "a@x.com", "secret1", laptop)
	second := env.login(t, "a@x.com", "secret1", laptop)

	assert.NotEqual(t, first.Access.TokenID, second.Access.TokenID)
	assert.NotEqual(t, first.Access.Value, second.Access.Value)
	assert.NotEqual(t, first.Refresh.TokenID, second.Refresh.TokenID)
	assert.NotEqual(t, first.SessionID, second.SessionID, "every login opens a new session")
}

func TestLockoutLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	for i := 0; i < 4; i++ {
		_, err := env.auther.Authenticate(ctx, "a@x.com", "wrongpw", laptop)
		require.True(t, uas.IsInvalidCredentials(err))
	}

	account := env.account(t, "a@x.com")
	assert.Equal(t, 4, account.FailedLoginAttempts)
	assert.Nil(t, account.LockedUntil)
	assert.Equal(t, uas.LockOpen, env.auther.Lockout().Check(account))

	// still authenticatable after four failures
	env.login(t, "a@x.com", "secret1", laptop)
	assert.Equal(t, 0, env.account(t, "a@x.com").FailedLoginAttempts)

	for i := 0; i < 5; i++ {
		_, err := env.auther.Authenticate(ctx, "a@x.com", "wrongpw", laptop)
		require.True(t, uas.IsInvalidCredentials(err), "attempt %d: %v", i+1, err)
	}

	account = env.account(t, "a@x.com")
	require.NotNil(t, account.LockedUntil)
	assert.Equal(t, uas.LockActive, env.auther.Lockout().Check(account))

	env.clock.Advance(10 * time.Minute)
	_, err := env.auther.Authenticate(ctx, "a@x.com", "secret1", laptop)
	require.True(t, uas.IsAccountLocked(err), "correct password while locked: %v", err)

	retry, ok := uas.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 5*time.Minute, retry)

	env.clock.Advance(5*time.Minute + time.Second)
	env.login(t, "a@x.com", "secret1", laptop)

	account = env.account(t, "a@x.com")
	assert.Equal(t, 0, account.FailedLoginAttempts)
	assert.Nil(t, account.LockedUntil)

	assert.Contains(t, env.sink.types(), uas.ActivityEventLoginLocked)
}

func TestExpiredLockResetsBeforeCredentialCheck(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	for i := 0; i < 5; i++ {
		_, _ = env.auther.Authenticate(ctx, "a@x.com", "wrongpw", laptop)
	}
	env.clock.Advance(16 * time.Minute)

	_, err := env.auther.Authenticate(ctx, "a@x.com", "wrongpw", laptop)
	assert.True(t, uas.IsInvalidCredentials(err))

	account := env.account(t, "a@x.com")
	assert.Equal(t, 1, account.FailedLoginAttempts, "a stale lock restarts the count")
	assert.Nil(t, account.LockedUntil)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	pair := env.login(t, "a@x.com", "secret1", laptop)
	env.clock.Advance(time.Minute)

	next, err := env.auther.Refresh(ctx, pair.Refresh.Value, laptop)
	require.NoError(t, err)
	assert.Equal(t, pair.SessionID, next.SessionID)
	assert.NotEqual(t, pair.Access.TokenID, next.Access.TokenID)
	assert.NotEqual(t, pair.Refresh.TokenID, next.Refresh.TokenID)

	_, err = env.auther.ClaimsFromToken(ctx, next.Access.Value)
	require.NoError(t, err)

	t.Run("access token is rejected", func(t *testing.T) {
		_, err := env.auther.Refresh(ctx, next.Access.Value, laptop)
		assert.True(t, uas.HasTextCode(err, uas.TextCodeTokenWrongKind), "got %v", err)
	})

	t.Run("reusing a rotated token revokes the session", func(t *testing.T) {
		_, err := env.auther.Refresh(ctx, pair.Refresh.Value, laptop)
		assert.True(t, uas.IsSessionInvalid(err))

		_, err = env.auther.Refresh(ctx, next.Refresh.Value, laptop)
		assert.True(t, uas.IsSessionInvalid(err), "the whole session is gone")
		assert.Contains(t, env.sink.types(), uas.ActivityEventRefreshReuse)
	})
}

func TestRefreshWithoutRotation(t *testing.T) {
	env := newTestEnv(t, func(o *uas.Options) { o.RotateRefreshTokens = false })
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	pair := env.login(t, "a@x.com", "secret1", laptop)

	next, err := env.auther.Refresh(ctx, pair.Refresh.Value, laptop)
	require.NoError(t, err)
	assert.Equal(t, pair.Refresh.Value, next.Refresh.Value)

	_, err = env.auther.Refresh(ctx, pair.Refresh.Value, laptop)
	require.NoError(t, err)
}

func TestRefreshRejectedAfterLogoutAllDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	onLaptop := env.login(t, "a@x.com", "secret1", laptop)
	onPhone := env.login(t, "a@x.com", "secret1", phone)
	assert.NotEqual(t, onLaptop.SessionID, onPhone.SessionID)

	require.NoError(t, env.auther.Logout(ctx, onLaptop.Access.Value, uas.LogoutAllDevices, laptop))

	for _, pair := range []*uas.TokenPair{onLaptop, onPhone} {
		assert.True(t, pair.Refresh.ExpiresAt.After(env.clock.Now()))
		_, err := env.auther.Refresh(ctx, pair.Refresh.Value, laptop)
		assert.True(t, uas.IsSessionInvalid(err), "got %v", err)

		_, err = env.auther.ClaimsFromToken(ctx, pair.Access.Value)
		assert.True(t, uas.IsSessionInvalid(err), "got %v", err)
	}
}

func TestLogoutSingleDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	onLaptop := env.login(t, "a@x.com", "secret1", laptop)
	onPhone := env.login(t, "a@x.com", "secret1", phone)

	require.NoError(t, env.auther.Logout(ctx, onLaptop.Access.Value, uas.LogoutDevice, laptop))

	_, err := env.auther.Refresh(ctx, onLaptop.Refresh.Value, laptop)
	assert.True(t, uas.IsSessionInvalid(err))

	_, err = env.auther.Refresh(ctx, onPhone.Refresh.Value, phone)
	assert.NoError(t, err)
}

func TestLogoutDeniesAccessToken(t *testing.T) {
	denylist := new(MockDenylist)
	env := newTestEnv(t, nil, uas.WithDenylist(denylist))
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	pair := env.login(t, "a@x.com", "secret1", laptop)

	denylist.On("IsDenied", mock.Anything, pair.Access.TokenID).Return(false, nil).Once()
	env.claims(t, pair)

	denylist.On("Deny", mock.Anything, pair.Access.TokenID, env.opts.AccessTokenTTL).Return(nil).Once()
	require.NoError(t, env.auther.Logout(ctx, pair.Access.Value, uas.LogoutDevice, laptop))

	denylist.On("IsDenied", mock.Anything, pair.Access.TokenID).Return(true, nil).Once()
	_, err := env.auther.ClaimsFromToken(ctx, pair.Access.Value)
	assert.True(t, uas.IsTokenInvalid(err), "got %v", err)

	denylist.AssertExpectations(t)
}

func TestSessionPerAccountPolicy(t *testing.T) {
	env := newTestEnv(t, func(o *uas.Options) { o.SessionPolicy = uas.SessionPerAccount })
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	onLaptop := env.login(t, "a@x.com", "secret1", laptop)
	onPhone := env.login(t, "a@x.com", "secret1", phone)
	assert.NotEqual(t, onLaptop.SessionID, onPhone.SessionID)

	sessions, err := env.auther.ActiveSessions(ctx, env.claims(t, onPhone))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, onPhone.SessionID, sessions[0].ID)

	_, err = env.auther.Refresh(ctx, onLaptop.Refresh.Value, laptop)
	assert.True(t, uas.IsSessionInvalid(err), "the newer login replaced the session")

	_, err = env.auther.ClaimsFromToken(ctx, onLaptop.Access.Value)
	assert.True(t, uas.IsSessionInvalid(err), "access tokens of the replaced session stop resolving")

	refreshed, err := env.auther.Refresh(ctx, onPhone.Refresh.Value, phone)
	require.NoError(t, err, "a stale token from the replaced session must not touch the live one")
	assert.Equal(t, onPhone.SessionID, refreshed.SessionID)
}

func TestSessionSameUserAgentDifferentDevices(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	home := laptop
	home.DeviceID = "install-home"
	work := laptop
	work.DeviceID = "install-work"

	onHome := env.login(t, "a@x.com", "secret1", home)
	onWork := env.login(t, "a@x.com", "secret1", work)
	assert.NotEqual(t, onHome.SessionID, onWork.SessionID)

	_, err := env.auther.Refresh(ctx, onHome.Refresh.Value, home)
	require.NoError(t, err)
	_, err = env.auther.Refresh(ctx, onWork.Refresh.Value, work)
	require.NoError(t, err)

	sessions, err := env.auther.ActiveSessions(ctx, env.claims(t, onWork))
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSessionReloginOnSameDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	first := env.login(t, "a@x.com", "secret1", laptop)
	second := env.login(t, "a@x.com", "secret1", laptop)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	_, err := env.auther.Refresh(ctx, first.Refresh.Value, laptop)
	assert.True(t, uas.IsSessionInvalid(err))

	_, err = env.auther.Refresh(ctx, second.Refresh.Value, laptop)
	require.NoError(t, err)
}

func TestActiveSessionsAndTerminate(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")
	env.registerVerified(t, "b@x.com", "bob", "secret1")

	onLaptop := env.login(t, "a@x.com", "secret1", laptop)
	onPhone := env.login(t, "a@x.com", "secret1", phone)
	bob := env.login(t, "b@x.com", "secret1", laptop)

	claims := env.claims(t, onLaptop)
	sessions, err := env.auther.ActiveSessions(ctx, claims)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	err = env.auther.TerminateSession(ctx, claims, bob.SessionID)
	assert.True(t, uas.IsNotFound(err), "other accounts' sessions are invisible")

	require.NoError(t, env.auther.TerminateSession(ctx, claims, onPhone.SessionID))
	_, err = env.auther.Refresh(ctx, onPhone.Refresh.Value, phone)
	assert.True(t, uas.IsSessionInvalid(err))
}

func TestAuthorize(t *testing.T) {
	admin := &uas.Claims{Role: uas.RoleAdmin}
	user := &uas.Claims{Role: uas.RoleUser}

	assert.True(t, uas.Authorize(admin, uas.RoleAdmin))
	assert.False(t, uas.Authorize(admin, uas.RoleUser))
	assert.True(t, uas.Authorize(user, uas.RoleUser))
	assert.False(t, uas.Authorize(user, uas.RoleAdmin))
	assert.False(t, uas.Authorize(nil, uas.RoleUser))
}

func TestAssignRole(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	root := env.registerVerified(t, "root@x.com", "root", "secret1")
	env.makeAdmin(t, root)
	alice := env.registerVerified(t, "a@x.com", "alice", "secret1")

	adminClaims := env.claims(t, env.login(t, "root@x.com", "secret1", laptop))
	alicePair := env.login(t, "a@x.com", "secret1", laptop)
	aliceClaims := env.claims(t, alicePair)

	_, err := env.auther.AssignRole(ctx, aliceClaims, alice.ID, uas.RoleAdmin)
	assert.True(t, uas.IsUnauthorized(err))

	_, err = env.auther.AssignRole(ctx, adminClaims, uuid.New(), uas.RoleAdmin)
	assert.True(t, uas.IsNotFound(err))

	_, err = env.auther.AssignRole(ctx, adminClaims, alice.ID, uas.Role("owner"))
	assert.True(t, uas.HasTextCode(err, uas.TextCodeValidation))

	updated, err := env.auther.AssignRole(ctx, adminClaims, alice.ID, uas.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, uas.RoleAdmin, updated.Role)

	_, err = env.auther.Refresh(ctx, alicePair.Refresh.Value, laptop)
	assert.True(t, uas.IsSessionInvalid(err), "role changes end existing sessions")

	fresh := env.claims(t, env.login(t, "a@x.com", "secret1", laptop))
	assert.True(t, env.auther.Authorize(fresh, uas.RoleAdmin))
}

func TestUnlockAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	root := env.registerVerified(t, "root@x.com", "root", "secret1")
	env.makeAdmin(t, root)
	alice := env.registerVerified(t, "a@x.com", "alice", "secret1")
	adminClaims := env.claims(t, env.login(t, "root@x.com", "secret1", laptop))

	for i := 0; i < 5; i++ {
		_, _ = env.auther.Authenticate(ctx, "a@x.com", "wrongpw", laptop)
	}
	_, err := env.auther.Authenticate(ctx, "a@x.com", "secret1", laptop)
	require.True(t, uas.IsAccountLocked(err))

	_, err = env.auther.UnlockAccount(ctx, &uas.Claims{AccountID: alice.ID, Role: uas.RoleUser}, alice.ID)
	assert.True(t, uas.IsUnauthorized(err))

	unlocked, err := env.auther.UnlockAccount(ctx, adminClaims, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unlocked.FailedLoginAttempts)
	assert.Nil(t, unlocked.LockedUntil)

	env.login(t, "a@x.com", "secret1", laptop)
}

func TestDeleteAccountCascades(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.auther = uas.NewAuther(env.repo, env.opts,
		uas.WithClock(env.clock.Now),
		uas.WithEmailSender(env.mail),
		uas.WithEmailDispatcher(func(job func()) { job() }),
		uas.WithActivitySink(uas.NewActivityLogSink(env.repo.ActivityLogs())),
		uas.WithLogger(uas.NoopLogger()),
	)

	alice := env.registerVerified(t, "a@x.com", "alice", "secret1")
	bob := env.registerVerified(t, "b@x.com", "bob", "secret1")
	pair := env.login(t, "a@x.com", "secret1", laptop)
	env.login(t, "a@x.com", "secret1", phone)

	rows, err := env.repo.ActivityLogs().ListByAccount(ctx, alice.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	bobClaims := env.claims(t, env.login(t, "b@x.com", "secret1", laptop))
	err = env.auther.DeleteAccount(ctx, bobClaims, alice.ID)
	assert.True(t, uas.IsUnauthorized(err), "users may only delete themselves")

	aliceClaims := env.claims(t, pair)
	require.NoError(t, env.auther.DeleteAccount(ctx, aliceClaims, alice.ID))

	_, err = env.repo.Accounts().FindByID(ctx, alice.ID)
	assert.Error(t, err)

	count, err := env.db.NewSelect().Model((*uas.Session)(nil)).Where("account_id = ?", alice.ID.String()).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	rows, err = env.repo.ActivityLogs().ListByAccount(ctx, alice.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = env.repo.Accounts().FindByID(ctx, bob.ID)
	assert.NoError(t, err)

	err = env.auther.DeleteAccount(ctx, aliceClaims, alice.ID)
	assert.True(t, uas.IsNotFound(err))
}

func TestStoreFailureIsServerError(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	require.NoError(t, env.db.Close())

	_, err := env.auther.Authenticate(context.Background(), "a@x.com", "secret1", laptop)
	require.Error(t, err)
	assert.True(t, uas.IsServerError(err), "got %v", err)
	assert.False(t, uas.IsInvalidCredentials(err))
	assert.Equal(t, uas.ErrServerError, uas.PublicError(err))
}

func TestActivityEventsAreRecorded(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.registerVerified(t, "a@x.com", "alice", "secret1")
	_, _ = env.auther.Authenticate(ctx, "ghost@x.com", "secret1", laptop)
	pair := env.login(t, "a@x.com", "secret1", laptop)
	_, err := env.auther.Refresh(ctx, pair.Refresh.Value, laptop)
	require.NoError(t, err)

	assert.Equal(t, []uas.ActivityEventType{
		uas.ActivityEventRegistered,
		uas.ActivityEventEmailVerified,
		uas.ActivityEventLoginFailure,
		uas.ActivityEventLoginSuccess,
		uas.ActivityEventTokenRefreshed,
	}, env.sink.types())
}
