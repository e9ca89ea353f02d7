package uas_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-uas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginWithProviderCreatesAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	identity := uas.ProviderIdentity{
		Provider:      "google",
		Email:         "New.User@Gmail.com",
		EmailVerified: true,
		Name:          "New User",
	}

	pair, created, err := env.auther.LoginWithProvider(ctx, identity, laptop)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "new.user@gmail.com", pair.Account.Email)
	assert.Equal(t, "newuser", pair.Account.Username)
	assert.True(t, pair.Account.CanLogin())

	_, err = env.auther.Authenticate(ctx, "new.user@gmail.com", "", laptop)
	assert.True(t, uas.IsInvalidCredentials(err), "provider accounts have no usable password")

	again, created, err := env.auther.LoginWithProvider(ctx, identity, laptop)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, pair.Account.ID, again.Account.ID)
	assert.NotEqual(t, pair.SessionID, again.SessionID)

	assert.Contains(t, env.sink.types(), uas.ActivityEventSocialLogin)
}

func TestLoginWithProviderDiscardsUnverifiedPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// someone registers the address first and never verifies it
	_, err := env.auther.Register(ctx, uas.RegisterAccountMessage{Email: "victim@x.com", Username: "squatter", Password: "attacker1"}, laptop)
	require.NoError(t, err)

	pair, created, err := env.auther.LoginWithProvider(ctx, uas.ProviderIdentity{
		Provider:      "google",
		Email:         "victim@x.com",
		EmailVerified: true,
	}, phone)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, pair.Account.CanLogin())

	account := env.account(t, "victim@x.com")
	assert.True(t, account.IsVerified, "a verified provider email completes verification")

	_, err = env.auther.Authenticate(ctx, "victim@x.com", "attacker1", laptop)
	assert.True(t, uas.IsInvalidCredentials(err), "the unproven registration password must not survive")
}

func TestLoginWithProviderKeepsVerifiedPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	pair, created, err := env.auther.LoginWithProvider(ctx, uas.ProviderIdentity{
		Provider:      "google",
		Email:         "a@x.com",
		EmailVerified: true,
	}, laptop)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", pair.Account.Username)

	env.login(t, "a@x.com", "secret1", phone)
}

func TestLoginWithProviderUsernameCollision(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "a@x.com", "alice", "secret1")

	pair, created, err := env.auther.LoginWithProvider(context.Background(), uas.ProviderIdentity{
		Provider:      "google",
		Email:         "alice@gmail.com",
		EmailVerified: true,
		Username:      "Alice",
	}, laptop)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "alice", pair.Account.Username)
	assert.Contains(t, pair.Account.Username, "alice")
}

func TestLoginWithProviderRejects(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, _, err := env.auther.LoginWithProvider(ctx, uas.ProviderIdentity{
		Provider: "google",
		Email:    "a@x.com",
	}, laptop)
	assert.True(t, uas.IsInvalidCredentials(err), "unverified provider email")

	env.registerVerified(t, "b@x.com", "bob", "secret1")
	for i := 0; i < 5; i++ {
		_, _ = env.auther.Authenticate(ctx, "b@x.com", "wrongpw", laptop)
	}

	_, _, err = env.auther.LoginWithProvider(ctx, uas.ProviderIdentity{
		Provider:      "google",
		Email:         "b@x.com",
		EmailVerified: true,
	}, laptop)
	assert.True(t, uas.IsAccountLocked(err))
}
