package uas

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProviderIdentity is a profile an OAuth provider vouched for.
type ProviderIdentity struct {
	Provider string
	// AccountID is set when the provider identity is already linked.
	AccountID     uuid.UUID
	Email         string
	EmailVerified bool
	Name          string
	Username      string
}

// LoginWithProvider opens a session for a provider identity. A verified
// provider email counts as completed email verification. The first login
// creates the account with a password nobody knows. The bool reports
// whether the account was created.
func (a *Auther) LoginWithProvider(ctx context.Context, identity ProviderIdentity, device DeviceContext) (*TokenPair, bool, error) {
	if !identity.EmailVerified || strings.TrimSpace(identity.Email) == "" {
		return nil, false, ErrInvalidCredentials
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var (
		pair     *TokenPair
		account  *Account
		created  bool
		loginErr error
	)

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, created, err = a.resolveProviderAccountTx(ctx, tx, identity)
		if err != nil {
			return err
		}

		account, err = a.lockout.EnforceTx(ctx, tx, account)
		if err != nil {
			if IsAccountLocked(err) {
				loginErr = err
				return nil
			}
			return serverError(err, "failed to reset expired lock")
		}

		switch {
		case !account.IsVerified:
			// nobody proved ownership of the password set at registration
			hash, err := RandomPasswordHash(a.hasher)
			if err != nil {
				return asRichError(err, "failed to create password")
			}
			account, err = a.repo.Accounts().ResetPasswordTx(ctx, tx, account.ID, hash, a.now())
			if err != nil {
				return serverError(err, "failed to verify account")
			}
		case !account.CanLogin():
			account, err = a.repo.Accounts().MarkVerifiedTx(ctx, tx, account.ID, a.now())
			if err != nil {
				return serverError(err, "failed to verify account")
			}
		}

		account, err = a.repo.Accounts().TrackSuccessfulLoginTx(ctx, tx, account.ID, a.now())
		if err != nil {
			return serverError(err, "failed to track login")
		}

		pair, err = a.openSessionTx(ctx, tx, account, device)
		return err
	})
	if err != nil {
		return nil, false, a.fail("provider login", err)
	}

	if loginErr != nil {
		a.emit(ctx, ActivityEventLoginLocked, account, device, map[string]any{"provider": identity.Provider})
		return nil, false, loginErr
	}

	if created {
		a.emit(ctx, ActivityEventRegistered, account, device, map[string]any{"provider": identity.Provider})
	}
	a.emit(ctx, ActivityEventSocialLogin, account, device, map[string]any{
		"provider":   identity.Provider,
		"session_id": pair.SessionID.String(),
	})

	return pair, created, nil
}

func (a *Auther) resolveProviderAccountTx(ctx context.Context, tx bun.IDB, identity ProviderIdentity) (*Account, bool, error) {
	if identity.AccountID != uuid.Nil {
		found, err := a.repo.Accounts().FindByIDTx(ctx, tx, identity.AccountID, true)
		if err == nil {
			return found, false, nil
		}
		if !isRecordNotFound(err) {
			return nil, false, serverError(err, "failed to load linked account")
		}
	}

	found, err := a.repo.Accounts().FindByEmailTx(ctx, tx, identity.Email, true)
	if err == nil {
		return found, false, nil
	}
	if !isRecordNotFound(err) {
		return nil, false, serverError(err, "failed to load account")
	}

	username, err := a.uniqueUsernameTx(ctx, tx, identity)
	if err != nil {
		return nil, false, err
	}

	hash, err := RandomPasswordHash(a.hasher)
	if err != nil {
		return nil, false, asRichError(err, "failed to create password")
	}

	now := a.now().UTC()
	account, err := a.repo.Accounts().RegisterTx(ctx, tx, &Account{
		Email:        identity.Email,
		Username:     username,
		PasswordHash: hash,
		Role:         RoleUser,
		IsActive:     true,
		IsVerified:   true,
		CreatedAt:    timePtr(now),
		UpdatedAt:    timePtr(now),
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrDuplicateAccount
		}
		return nil, false, serverError(err, "failed to create account")
	}
	return account, true, nil
}

// uniqueUsernameTx derives an alphanumeric username from the identity and
// appends a random suffix until it is free.
func (a *Auther) uniqueUsernameTx(ctx context.Context, tx bun.IDB, identity ProviderIdentity) (string, error) {
	base := usernameFrom(identity)
	candidate := base

	for i := 0; i < 5; i++ {
		_, taken, err := a.repo.Accounts().TakenTx(ctx, tx, "", candidate)
		if err != nil {
			return "", serverError(err, "failed to check username")
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	}

	return base + strings.ReplaceAll(uuid.NewString(), "-", ""), nil
}

func usernameFrom(identity ProviderIdentity) string {
	source := identity.Username
	if source == "" {
		source = identity.Name
	}
	if source == "" {
		if at := strings.Index(identity.Email, "@"); at > 0 {
			source = identity.Email[:at]
		}
	}

	var b strings.Builder
	for _, r := range strings.ToLower(source) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}

	out := b.String()
	if len(out) > 40 {
		out = out[:40]
	}
	if len(out) < 3 {
		out = "user" + out
	}
	return out
}
