package uas_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-uas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordReset(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	onLaptop := env.login(t, "a@x.com", "secret1", laptop)
	onPhone := env.login(t, "a@x.com", "secret1", phone)

	initialize := uas.NewInitializePasswordResetHandler(env.auther)
	finalize := uas.NewFinalizePasswordResetHandler(env.auther)

	require.NoError(t, initialize.Execute(ctx, uas.InitializePasswordResetMessage{Email: "A@x.com"}))
	token := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateResetPassword), "reset_link")

	err := finalize.Execute(ctx, uas.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "newsecret",
		ConfirmPassword: "different",
	})
	assert.True(t, uas.HasTextCode(err, uas.TextCodeValidation), "got %v", err)

	require.NoError(t, finalize.Execute(ctx, uas.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "newsecret",
		ConfirmPassword: "newsecret",
	}))
	assert.Equal(t, 1, env.mail.count(uas.EmailTemplatePasswordChanged))

	err = finalize.Execute(ctx, uas.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "replayed1",
		ConfirmPassword: "replayed1",
	})
	assert.True(t, uas.IsTokenInvalid(err), "a reset token works once")

	for _, pair := range []*uas.TokenPair{onLaptop, onPhone} {
		_, err := env.auther.Refresh(ctx, pair.Refresh.Value, laptop)
		assert.True(t, uas.IsSessionInvalid(err))
	}

	_, err = env.auther.Authenticate(ctx, "a@x.com", "secret1", laptop)
	assert.True(t, uas.IsInvalidCredentials(err))
	env.login(t, "a@x.com", "newsecret", laptop)
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t, nil)

	handler := uas.NewInitializePasswordResetHandler(env.auther)
	require.NoError(t, handler.Execute(context.Background(), uas.InitializePasswordResetMessage{Email: "ghost@x.com"}))
	assert.Zero(t, env.mail.count(uas.EmailTemplateResetPassword))
}

func TestPasswordResetClearsLockout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	for i := 0; i < 5; i++ {
		_, _ = env.auther.Authenticate(ctx, "a@x.com", "wrongpw", laptop)
	}
	require.NotNil(t, env.account(t, "a@x.com").LockedUntil)

	require.NoError(t, uas.NewInitializePasswordResetHandler(env.auther).
		Execute(ctx, uas.InitializePasswordResetMessage{Email: "a@x.com"}))
	token := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateResetPassword), "reset_link")

	require.NoError(t, uas.NewFinalizePasswordResetHandler(env.auther).Execute(ctx, uas.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "newsecret",
		ConfirmPassword: "newsecret",
	}))

	account := env.account(t, "a@x.com")
	assert.Zero(t, account.FailedLoginAttempts)
	assert.Nil(t, account.LockedUntil)
	env.login(t, "a@x.com", "newsecret", laptop)
}

func TestPasswordResetTokenRules(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")
	finalize := uas.NewFinalizePasswordResetHandler(env.auther)

	t.Run("verify token can not reset", func(t *testing.T) {
		require.NoError(t, env.auther.ResendVerification(ctx, "a@x.com"))
		// already verified, nothing new is sent
		verifyToken := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateVerify), "verification_link")

		err := finalize.Execute(ctx, uas.FinalizePasswordResetMessage{
			Token:           verifyToken,
			Password:        "newsecret",
			ConfirmPassword: "newsecret",
		})
		assert.True(t, uas.HasTextCode(err, uas.TextCodeTokenWrongKind), "got %v", err)
	})

	t.Run("expired token", func(t *testing.T) {
		require.NoError(t, uas.NewInitializePasswordResetHandler(env.auther).
			Execute(ctx, uas.InitializePasswordResetMessage{Email: "a@x.com"}))
		token := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateResetPassword), "reset_link")

		env.clock.Advance(env.opts.ResetTokenTTL + time.Second)

		err := finalize.Execute(ctx, uas.FinalizePasswordResetMessage{
			Token:           token,
			Password:        "newsecret",
			ConfirmPassword: "newsecret",
		})
		assert.True(t, uas.IsTokenInvalid(err))
		assert.Equal(t, uas.ErrTokenInvalid, uas.PublicError(err))
	})
}

func TestPasswordChangeVoidsPendingResetToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	require.NoError(t, uas.NewInitializePasswordResetHandler(env.auther).
		Execute(ctx, uas.InitializePasswordResetMessage{Email: "a@x.com"}))
	token := tokenFromLink(t, env.mail.last(t, uas.EmailTemplateResetPassword), "reset_link")

	claims := env.claims(t, env.login(t, "a@x.com", "secret1", laptop))
	require.NoError(t, uas.NewChangePasswordHandler(env.auther).Execute(ctx, uas.ChangePasswordMessage{
		Claims:          claims,
		OldPassword:     "secret1",
		NewPassword:     "newsecret",
		ConfirmPassword: "newsecret",
	}))

	err := uas.NewFinalizePasswordResetHandler(env.auther).Execute(ctx, uas.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "hijacked1",
		ConfirmPassword: "hijacked1",
	})
	assert.True(t, uas.IsTokenInvalid(err))
	env.login(t, "a@x.com", "newsecret", laptop)
}

func TestPasswordResetCancelledContext(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := uas.NewInitializePasswordResetHandler(env.auther).
		Execute(ctx, uas.InitializePasswordResetMessage{Email: "a@x.com"})
	require.Error(t, err)
	assert.Zero(t, env.mail.count(uas.EmailTemplateResetPassword))
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	current := env.login(t, "a@x.com", "secret1", laptop)
	other := env.login(t, "a@x.com", "secret1", phone)
	claims := env.claims(t, current)

	handler := uas.NewChangePasswordHandler(env.auther)

	err := handler.Execute(ctx, uas.ChangePasswordMessage{
		OldPassword:     "secret1",
		NewPassword:     "newsecret",
		ConfirmPassword: "newsecret",
	})
	assert.True(t, uas.IsUnauthorized(err))

	err = handler.Execute(ctx, uas.ChangePasswordMessage{
		Claims:          claims,
		OldPassword:     "wrongpw",
		NewPassword:     "newsecret",
		ConfirmPassword: "newsecret",
	})
	assert.True(t, uas.IsInvalidCredentials(err))

	require.NoError(t, handler.Execute(ctx, uas.ChangePasswordMessage{
		Claims:          claims,
		OldPassword:     "secret1",
		NewPassword:     "newsecret",
		ConfirmPassword: "newsecret",
	}))

	_, err = env.auther.Refresh(ctx, current.Refresh.Value, laptop)
	assert.NoError(t, err, "the calling session survives")

	_, err = env.auther.Refresh(ctx, other.Refresh.Value, phone)
	assert.True(t, uas.IsSessionInvalid(err))

	env.login(t, "a@x.com", "newsecret", phone)
	assert.Contains(t, env.sink.types(), uas.ActivityEventPasswordChanged)
	assert.Zero(t, env.account(t, "a@x.com").FailedLoginAttempts)
}

func TestChangePasswordCountsTowardLockout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	claims := env.claims(t, env.login(t, "a@x.com", "secret1", laptop))
	handler := uas.NewChangePasswordHandler(env.auther)

	guess := func(old string) error {
		return handler.Execute(ctx, uas.ChangePasswordMessage{
			Claims:          claims,
			OldPassword:     old,
			NewPassword:     "newsecret",
			ConfirmPassword: "newsecret",
		})
	}

	for i := 0; i < env.opts.MaxLoginAttempts; i++ {
		assert.True(t, uas.IsInvalidCredentials(guess("wrong-guess")), "attempt %d", i+1)
	}
	assert.Equal(t, env.opts.MaxLoginAttempts, env.account(t, "a@x.com").FailedLoginAttempts)

	assert.True(t, uas.IsAccountLocked(guess("secret1")), "the right password is refused while locked")

	_, err := env.auther.Authenticate(ctx, "a@x.com", "secret1", phone)
	assert.True(t, uas.IsAccountLocked(err), "password change failures lock logins too")
	assert.Contains(t, env.sink.types(), uas.ActivityEventLoginLocked)

	env.clock.Advance(env.opts.LockoutDuration + time.Second)
	require.NoError(t, guess("secret1"))
}
