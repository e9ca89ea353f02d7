package uas

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Auther composes the store, hasher, codec, session registry and lockout
// guard into the register, verify, login, refresh and logout flows.
type Auther struct {
	repo     RepositoryManager
	cfg      Config
	hasher   PasswordHasher
	tokens   TokenCodec
	lockout  *LockoutGuard
	sessions *SessionRegistry
	denylist Denylist
	email    EmailSender
	dispatch func(func())
	links    LinkBuilder
	activity ActivitySink
	provider LoggerProvider
	logger   Logger
	now      func() time.Time
}

// AutherOption customizes an Auther at construction.
type AutherOption func(*Auther)

func WithPasswordHasher(h PasswordHasher) AutherOption {
	return func(a *Auther) {
		if h != nil {
			a.hasher = h
		}
	}
}

func WithTokenCodec(codec TokenCodec) AutherOption {
	return func(a *Auther) {
		if codec != nil {
			a.tokens = codec
		}
	}
}

// WithDenylist enables revocation of access tokens by jti on logout.
func WithDenylist(d Denylist) AutherOption {
	return func(a *Auther) {
		a.denylist = d
	}
}

func WithEmailSender(sender EmailSender) AutherOption {
	return func(a *Auther) {
		if sender != nil {
			a.email = sender
		}
	}
}

// WithEmailDispatcher controls how email jobs run. The default starts a
// goroutine per message; tests pass a function that runs the job inline.
func WithEmailDispatcher(dispatch func(job func())) AutherOption {
	return func(a *Auther) {
		if dispatch != nil {
			a.dispatch = dispatch
		}
	}
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func WithActivitySink(sink ActivitySink) AutherOption {
	return func(a *Auther) {
		a.activity = normalizeActivitySink(sink)
	}
}

func WithLoggerProvider(provider LoggerProvider) AutherOption {
	return func(a *Auther) {
		a.provider = provider
	}
}

func WithLogger(logger Logger) AutherOption {
	return func(a *Auther) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock injects a custom clock shared by every component the Auther
// builds (useful for tests).
func WithClock(clock func() time.Time) AutherOption {
	return func(a *Auther) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewAuther wires the core from a store and configuration. Secrets and the
// hasher are created here once and shared by every request.
func NewAuther(repo RepositoryManager, cfg Config, opts ...AutherOption) *Auther {
	a := &Auther{
		repo:     repo,
		cfg:      cfg,
		dispatch: func(job func()) { go job() },
		links:    NewLinkBuilder(cfg.GetFrontendURL()),
		activity: noopActivitySink{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.provider, a.logger = ResolveLogger("uas.auth", a.provider, a.logger)

	if a.hasher == nil {
		a.hasher = NewBcryptHasher(cfg.GetBcryptCost())
	}

	if a.tokens == nil {
		a.tokens = NewTokenService([]byte(cfg.GetSigningKey()), cfg.GetIssuer(), cfg.GetAudience()).
			WithClock(a.now).
			WithLogger(a.provider.GetLogger("uas.tokens"))
	}

	if a.email == nil {
		a.email = NewLogEmailSender(a.provider.GetLogger("uas.email"))
	}

	a.lockout = NewLockoutGuard(repo.Accounts(),
		WithLockoutClock(a.now),
		WithLockoutPolicy(cfg.GetMaxLoginAttempts(), cfg.GetLockoutDuration()),
	)

	a.sessions = NewSessionRegistry(repo, cfg.GetSessionTTL(),
		WithSessionPolicy(cfg.GetSessionPolicy()),
		WithSessionClock(a.now),
		WithSessionLogger(a.provider.GetLogger("uas.sessions")),
	)

	return a
}

// Sessions exposes the session registry.
func (a *Auther) Sessions() *SessionRegistry {
	return a.sessions
}

func (a *Auther) Tokens() TokenCodec {
	return a.tokens
}

func (a *Auther) Lockout() *LockoutGuard {
	return a.lockout
}

func (a *Auther) Config() Config {
	return a.cfg
}

// Register creates an inactive, unverified account and mails a verify link.
func (a *Auther) Register(ctx context.Context, msg RegisterAccountMessage, device DeviceContext) (*Account, error) {
	if err := msg.Validate(a.cfg.GetBlockedEmailDomains()...); err != nil {
		return nil, err
	}

	hash, err := a.hasher.Hash(msg.Password)
	if err != nil {
		return nil, asRichError(err, "failed to hash password")
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var account *Account
	err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		emailTaken, usernameTaken, err := a.repo.Accounts().TakenTx(ctx, tx, msg.Email, msg.Username)
		if err != nil {
			return serverError(err, "failed to check account uniqueness")
		}
		if emailTaken || usernameTaken {
			return ErrDuplicateAccount
		}

		now := a.now().UTC()
		account, err = a.repo.Accounts().RegisterTx(ctx, tx, &Account{
			Email:        msg.Email,
			Username:     strings.TrimSpace(msg.Username),
			PasswordHash: hash,
			Role:         RoleUser,
			CreatedAt:    timePtr(now),
			UpdatedAt:    timePtr(now),
		})
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateAccount
			}
			return serverError(err, "failed to create account")
		}
		return nil
	})
	if err != nil {
		return nil, a.fail("register", err)
	}

	a.sendVerification(ctx, account)
	a.emit(ctx, ActivityEventRegistered, account, device, nil)

	return account, nil
}

// VerifyEmail activates the account a verify token was issued for.
// Verifying twice is harmless.
func (a *Auther) VerifyEmail(ctx context.Context, token string) (*Account, error) {
	claims, err := a.tokens.Verify(token, TokenKindVerify)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var account *Account
	var changed bool
	err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := a.repo.Accounts().FindByIDTx(ctx, tx, claims.AccountID, true)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrTokenInvalid
			}
			return serverError(err, "failed to load account")
		}

		if found.IsActive && found.IsVerified {
			account = found
			return nil
		}

		account, err = a.repo.Accounts().MarkVerifiedTx(ctx, tx, found.ID, a.now())
		if err != nil {
			return serverError(err, "failed to verify account")
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, a.fail("verify email", err)
	}

	if changed {
		a.sendEmail(accountVerifiedMessage(a.links, account))
		a.emit(ctx, ActivityEventEmailVerified, account, DeviceContext{}, nil)
	}

	return account, nil
}

// ResendVerification mails a fresh verify link. Unknown and already
// verified addresses get the same silent success.
func (a *Auther) ResendVerification(ctx context.Context, email string) error {
	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	account, err := a.repo.Accounts().FindByEmail(ctx, email)
	if err != nil {
		if isRecordNotFound(err) {
			a.logger.Debug("verification resend for unknown email")
			return nil
		}
		return a.fail("resend verification", serverError(err, "failed to load account"))
	}

	if account.IsVerified {
		return nil
	}

	a.sendVerification(ctx, account)
	return nil
}

// Authenticate checks credentials and opens (or replaces) the session of
// the device. Unknown accounts, wrong passwords and accounts that may not
// log in all fail with ErrInvalidCredentials.
func (a *Auther) Authenticate(ctx context.Context, email, password string, device DeviceContext) (*TokenPair, error) {
	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var (
		pair     *TokenPair
		account  *Account
		loginErr error
		reason   string
	)

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := a.repo.Accounts().FindByEmailTx(ctx, tx, email, true)
		if err != nil {
			if isRecordNotFound(err) {
				a.burn(password)
				loginErr, reason = ErrInvalidCredentials, "unknown_account"
				return nil
			}
			return serverError(err, "failed to load account")
		}
		account = found

		account, err = a.lockout.EnforceTx(ctx, tx, account)
		if err != nil {
			if IsAccountLocked(err) {
				loginErr, reason = err, "locked"
				return nil
			}
			return serverError(err, "failed to reset expired lock")
		}

		if !a.hasher.Verify(password, account.PasswordHash) {
			account, err = a.lockout.RecordFailureTx(ctx, tx, account)
			if err != nil {
				return serverError(err, "failed to record failed login")
			}
			loginErr, reason = ErrInvalidCredentials, "bad_password"
			return nil
		}

		if !account.CanLogin() {
			loginErr, reason = ErrInvalidCredentials, "not_verified"
			return nil
		}

		account, err = a.repo.Accounts().TrackSuccessfulLoginTx(ctx, tx, account.ID, a.now())
		if err != nil {
			return serverError(err, "failed to track login")
		}

		pair, err = a.openSessionTx(ctx, tx, account, device)
		return err
	})
	if err != nil {
		return nil, a.fail("authenticate", err)
	}

	if loginErr != nil {
		a.recordLoginFailure(ctx, email, account, device, reason)
		return nil, loginErr
	}

	a.emit(ctx, ActivityEventLoginSuccess, account, device, map[string]any{
		"session_id": pair.SessionID.String(),
	})

	return pair, nil
}

func (a *Auther) recordLoginFailure(ctx context.Context, email string, account *Account, device DeviceContext, reason string) {
	meta := map[string]any{"reason": reason}

	if account == nil {
		a.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Actor:     ActorRef{Type: "unknown"},
			Email:     NormalizeEmail(email),
			Device:    device,
			Metadata:  meta,
		})
		return
	}

	if reason == "locked" {
		a.emit(ctx, ActivityEventLoginLocked, account, device, meta)
		return
	}

	meta["failed_attempts"] = account.FailedLoginAttempts
	a.emit(ctx, ActivityEventLoginFailure, account, device, meta)

	if reason == "bad_password" && a.lockout.Check(account) == LockActive {
		a.logger.Warn("account locked after repeated failed logins", "account_id", account.ID)
		a.emit(ctx, ActivityEventLoginLocked, account, device, map[string]any{
			"locked_until": account.LockedUntil,
		})
	}
}

// openSessionTx issues the token pair and stores the session holding the
// refresh token. Both happen in the caller's transaction.
func (a *Auther) openSessionTx(ctx context.Context, tx bun.IDB, account *Account, device DeviceContext) (*TokenPair, error) {
	claims := ClaimsForAccount(account)
	claims.SessionID = uuid.New()

	access, err := a.tokens.Issue(claims, TokenKindAccess, a.cfg.GetAccessTokenTTL())
	if err != nil {
		return nil, asRichError(err, "failed to issue access token")
	}

	refresh, err := a.tokens.Issue(claims, TokenKindRefresh, a.cfg.GetRefreshTokenTTL())
	if err != nil {
		return nil, asRichError(err, "failed to issue refresh token")
	}

	session, err := a.sessions.CreateOrReplaceTx(ctx, tx, claims.SessionID, account.ID, refresh.TokenID, device)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		Access:    access,
		Refresh:   refresh,
		SessionID: session.ID,
		Account:   account,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. With rotation
// on, the refresh token is replaced too and the old one stops working.
// Presenting a refresh token that was already rotated revokes the session.
func (a *Auther) Refresh(ctx context.Context, refreshToken string, device DeviceContext) (*TokenPair, error) {
	claims, err := a.tokens.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	if claims.SessionID == uuid.Nil {
		return nil, ErrSessionInvalid
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var (
		pair       *TokenPair
		account    *Account
		refreshErr error
		reused     bool
	)

	err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		session, err := a.sessions.ValidateTx(ctx, tx, claims.SessionID, true)
		if err != nil {
			return err
		}

		if session.AccountID != claims.AccountID {
			return ErrSessionInvalid
		}

		if session.TokenRef != claims.TokenID {
			if _, err := a.sessions.RevokeOneTx(ctx, tx, session.ID); err != nil {
				return err
			}
			reused, refreshErr = true, ErrSessionInvalid
			return nil
		}

		account, err = a.repo.Accounts().FindByIDTx(ctx, tx, claims.AccountID, false)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrSessionInvalid
			}
			return serverError(err, "failed to load account")
		}

		if !account.CanLogin() {
			if _, err := a.sessions.RevokeOneTx(ctx, tx, session.ID); err != nil {
				return err
			}
			refreshErr = ErrSessionInvalid
			return nil
		}

		next := ClaimsForAccount(account)
		next.SessionID = session.ID

		access, err := a.tokens.Issue(next, TokenKindAccess, a.cfg.GetAccessTokenTTL())
		if err != nil {
			return asRichError(err, "failed to issue access token")
		}

		refresh := IssuedToken{
			Value:     refreshToken,
			TokenID:   claims.TokenID,
			Kind:      TokenKindRefresh,
			ExpiresAt: claims.ExpiresAt,
		}

		if a.cfg.GetRotateRefreshTokens() {
			refresh, err = a.tokens.Issue(next, TokenKindRefresh, a.cfg.GetRefreshTokenTTL())
			if err != nil {
				return asRichError(err, "failed to issue refresh token")
			}
			if _, err := a.sessions.RotateTx(ctx, tx, session.ID, claims.TokenID, refresh.TokenID); err != nil {
				return err
			}
		}

		pair = &TokenPair{
			Access:    access,
			Refresh:   refresh,
			SessionID: session.ID,
			Account:   account,
		}
		return nil
	})
	if err != nil {
		return nil, a.fail("refresh", err)
	}

	if reused {
		a.logger.Warn("rotated refresh token presented again, session revoked",
			"account_id", claims.AccountID, "session_id", claims.SessionID)
		a.emitEvent(ctx, ActivityEvent{
			EventType: ActivityEventRefreshReuse,
			Actor:     ActorRef{ID: claims.AccountID.String(), Type: "user"},
			AccountID: claims.AccountID,
			Email:     claims.Email,
			Device:    device,
			Metadata:  map[string]any{"session_id": claims.SessionID.String()},
		})
	}

	if refreshErr != nil {
		return nil, refreshErr
	}

	a.emit(ctx, ActivityEventTokenRefreshed, account, device, map[string]any{
		"session_id": pair.SessionID.String(),
		"rotated":    a.cfg.GetRotateRefreshTokens(),
	})

	return pair, nil
}

// Logout ends the session of the access token, or every session of its
// account for LogoutAllDevices. The access token itself is denied when a
// denylist is configured.
func (a *Auther) Logout(ctx context.Context, accessToken string, scope LogoutScope, device DeviceContext) error {
	claims, err := a.tokens.Verify(accessToken, TokenKindAccess)
	if err != nil {
		return err
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var revoked int
	err = a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		switch scope {
		case LogoutAllDevices:
			revoked, err = a.sessions.RevokeAllTx(ctx, tx, claims.AccountID)
		default:
			if claims.SessionID != uuid.Nil {
				revoked, err = a.sessions.RevokeOneTx(ctx, tx, claims.SessionID)
			}
		}
		return err
	})
	if err != nil {
		return a.fail("logout", err)
	}

	a.deny(ctx, claims)

	event := ActivityEventLogout
	if scope == LogoutAllDevices {
		event = ActivityEventLogoutAll
	}
	a.emitEvent(ctx, ActivityEvent{
		EventType: event,
		Actor:     ActorRef{ID: claims.AccountID.String(), Type: "user"},
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Device:    device,
		Metadata: map[string]any{
			"session_id": claims.SessionID.String(),
			"revoked":    revoked,
		},
	})

	return nil
}

// ClaimsFromToken validates an access token for a request: signature, kind
// and expiry, the denylist, and that its session still exists.
func (a *Auther) ClaimsFromToken(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := a.tokens.Verify(accessToken, TokenKindAccess)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	if a.denylist != nil {
		denied, err := a.denylist.IsDenied(ctx, claims.TokenID)
		if err != nil {
			return nil, a.fail("denylist lookup", serverError(err, "failed to check token denylist"))
		}
		if denied {
			return nil, ErrTokenInvalid
		}
	}

	if a.cfg.GetValidateSessionOnAccess() && claims.SessionID != uuid.Nil {
		session, err := a.sessions.Validate(ctx, claims.SessionID)
		if err != nil {
			return nil, a.fail("validate session", err)
		}
		if session.AccountID != claims.AccountID {
			return nil, ErrSessionInvalid
		}
	}

	return claims, nil
}

// Authorize reports whether claims carry the required role.
func (a *Auther) Authorize(claims *Claims, required Role) bool {
	return Authorize(claims, required)
}

// ActiveSessions lists the live sessions of the caller.
func (a *Auther) ActiveSessions(ctx context.Context, claims *Claims) ([]*Session, error) {
	if claims == nil {
		return nil, ErrUnauthorized
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	out, err := a.sessions.Active(ctx, claims.AccountID)
	if err != nil {
		return nil, a.fail("active sessions", err)
	}
	return out, nil
}

// TerminateSession ends one of the caller's sessions by id.
func (a *Auther) TerminateSession(ctx context.Context, claims *Claims, sessionID uuid.UUID) error {
	if claims == nil {
		return ErrUnauthorized
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		session, err := a.repo.Sessions().FindTx(ctx, tx, sessionID, true)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrNotFound
			}
			return serverError(err, "failed to load session")
		}
		if session.AccountID != claims.AccountID {
			return ErrNotFound
		}
		_, err = a.sessions.RevokeOneTx(ctx, tx, session.ID)
		return err
	})
	if err != nil {
		return a.fail("terminate session", err)
	}

	a.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventSessionRevoked,
		Actor:     actorFromClaims(claims),
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Metadata:  map[string]any{"session_id": sessionID.String()},
	})
	return nil
}

// AssignRole changes the role of an account. Only admins may call it. The
// account's sessions are revoked so the new role shows up in fresh tokens.
func (a *Auther) AssignRole(ctx context.Context, actor *Claims, accountID uuid.UUID, role Role) (*Account, error) {
	if !Authorize(actor, RoleAdmin) {
		return nil, ErrUnauthorized
	}
	if !role.IsValid() {
		return nil, goerrors.New("unknown role", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeValidation).
			WithMetadata(map[string]any{"role": string(role)})
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var account *Account
	var previous Role
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := a.repo.Accounts().FindByIDTx(ctx, tx, accountID, true)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrNotFound
			}
			return serverError(err, "failed to load account")
		}
		previous = found.Role

		account, err = a.repo.Accounts().UpdateRoleTx(ctx, tx, accountID, role, a.now())
		if err != nil {
			return serverError(err, "failed to update role")
		}

		if previous != role {
			_, err = a.sessions.RevokeAllTx(ctx, tx, accountID)
		}
		return err
	})
	if err != nil {
		return nil, a.fail("assign role", err)
	}

	a.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventRoleChanged,
		Actor:     actorFromClaims(actor),
		AccountID: account.ID,
		Email:     account.Email,
		Metadata: map[string]any{
			"from": string(previous),
			"to":   string(role),
		},
	})

	return account, nil
}

// UnlockAccount clears the failed login counter and any lock. Admin only.
func (a *Auther) UnlockAccount(ctx context.Context, actor *Claims, accountID uuid.UUID) (*Account, error) {
	if !Authorize(actor, RoleAdmin) {
		return nil, ErrUnauthorized
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var account *Account
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		account, err = a.repo.Accounts().ResetLockoutTx(ctx, tx, accountID, a.now())
		if err != nil {
			if isRecordNotFound(err) {
				return ErrNotFound
			}
			return serverError(err, "failed to unlock account")
		}
		return nil
	})
	if err != nil {
		return nil, a.fail("unlock account", err)
	}

	a.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventAccountUnlocked,
		Actor:     actorFromClaims(actor),
		AccountID: account.ID,
		Email:     account.Email,
	})

	return account, nil
}

// DeleteAccount removes an account together with its sessions, social
// links and activity rows. Admins may delete any account, users only
// their own.
func (a *Auther) DeleteAccount(ctx context.Context, actor *Claims, accountID uuid.UUID) error {
	if actor == nil || (!Authorize(actor, RoleAdmin) && actor.AccountID != accountID) {
		return ErrUnauthorized
	}

	ctx, cancel := a.storeContext(ctx)
	defer cancel()

	var email string
	err := a.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		found, err := a.repo.Accounts().FindByIDTx(ctx, tx, accountID, true)
		if err != nil {
			if isRecordNotFound(err) {
				return ErrNotFound
			}
			return serverError(err, "failed to load account")
		}
		email = found.Email

		if err := a.repo.Accounts().DeleteCascadeTx(ctx, tx, accountID); err != nil {
			if isRecordNotFound(err) {
				return ErrNotFound
			}
			return serverError(err, "failed to delete account")
		}
		return nil
	})
	if err != nil {
		return a.fail("delete account", err)
	}

	if actor.AccountID == accountID {
		a.deny(ctx, actor)
	}

	a.emitEvent(ctx, ActivityEvent{
		EventType: ActivityEventAccountDeleted,
		Actor:     actorFromClaims(actor),
		AccountID: accountID,
		Email:     email,
	})

	return nil
}

// storeContext bounds store calls by the configured timeout.
func (a *Auther) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := a.cfg.GetStoreTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// fail logs infrastructure errors with their detail and passes business
// errors through untouched.
func (a *Auther) fail(op string, err error) error {
	rich := asRichError(err, op+" failed")

	var richErr *goerrors.Error
	if goerrors.As(rich, &richErr) && (richErr.Category == goerrors.CategoryInternal || richErr.TextCode == TextCodeServerError) {
		a.logger.Error("auth operation failed", "op", op, "error", err)
	}
	return rich
}

func (a *Auther) burn(password string) {
	if b, ok := a.hasher.(timingBurner); ok {
		b.burn(password)
	}
}

// deny puts the access token on the denylist for the rest of its life.
func (a *Auther) deny(ctx context.Context, claims *Claims) {
	if a.denylist == nil || claims == nil || claims.TokenID == "" {
		return
	}

	ttl := claims.Remaining(a.now())
	if ttl <= 0 {
		return
	}

	if err := a.denylist.Deny(ctx, claims.TokenID, ttl); err != nil {
		a.logger.Warn("failed to deny access token", "account_id", claims.AccountID, "error", err)
	}
}

func (a *Auther) sendVerification(ctx context.Context, account *Account) {
	token, err := a.tokens.Issue(ClaimsForAccount(account), TokenKindVerify, a.cfg.GetVerifyTokenTTL())
	if err != nil {
		a.logger.Error("failed to issue verification token", "account_id", account.ID, "error", err)
		return
	}
	a.sendEmail(verifyEmailMessage(a.links, account, token.Value))
}

// sendEmail hands the message off without waiting for delivery.
func (a *Auther) sendEmail(msg EmailMessage) {
	sender := a.email
	logger := a.logger
	timeout := a.cfg.GetStoreTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	a.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := sender.Send(ctx, msg); err != nil {
			logger.Error("email delivery failed", "template", msg.Template, "error", err)
		}
	})
}

func (a *Auther) emit(ctx context.Context, eventType ActivityEventType, account *Account, device DeviceContext, metadata map[string]any) {
	event := ActivityEvent{
		EventType: eventType,
		Actor:     ActorRef{Type: "user"},
		Device:    device,
		Metadata:  metadata,
	}
	if account != nil {
		event.Actor.ID = account.ID.String()
		event.AccountID = account.ID
		event.Email = account.Email
	}
	a.emitEvent(ctx, event)
}

func (a *Auther) emitEvent(ctx context.Context, event ActivityEvent) {
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = a.now()
	}

	if err := normalizeActivitySink(a.activity).Record(ctx, event); err != nil {
		a.logger.Warn("activity sink record error", "event", event.EventType, "error", err)
	}
}

func actorFromClaims(claims *Claims) ActorRef {
	if claims == nil {
		return ActorRef{Type: "system"}
	}
	actorType := "user"
	if claims.Role == RoleAdmin {
		actorType = "admin"
	}
	return ActorRef{ID: claims.AccountID.String(), Type: actorType}
}
