package uas

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionPolicy decides how many sessions an account may hold.
type SessionPolicy string

const (
	// SessionPerDevice keeps one session per account and device fingerprint.
	SessionPerDevice SessionPolicy = "per_device"
	// SessionPerAccount keeps a single session; a new login replaces it.
	SessionPerAccount SessionPolicy = "per_account"
)

const accountWideDeviceKey = "account"

// DeviceKey derives the key a session is stored under for the policy. A
// client supplied device id wins over the user agent; without one, clients
// sending the same user agent share a session.
func DeviceKey(policy SessionPolicy, device DeviceContext) string {
	if policy == SessionPerAccount {
		return accountWideDeviceKey
	}

	fingerprint := "ua:" + strings.ToLower(strings.TrimSpace(device.UserAgent))
	if id := strings.TrimSpace(device.DeviceID); id != "" {
		fingerprint = "id:" + id
	} else if fingerprint == "ua:" {
		fingerprint = "ua:unknown-device"
	}

	id, err := hashid.NewUUID(fingerprint)
	if err != nil {
		return fingerprint
	}
	return id.String()
}

// SessionRegistry manages session rows. Each standalone operation runs in
// its own transaction and returns the committed row; the Tx variants let
// the Auther compose them with account updates.
type SessionRegistry struct {
	repo   RepositoryManager
	policy SessionPolicy
	ttl    time.Duration
	now    func() time.Time
	logger Logger
}

// SessionRegistryOption customizes the registry.
type SessionRegistryOption func(*SessionRegistry)

func WithSessionPolicy(policy SessionPolicy) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if policy != "" {
			r.policy = policy
		}
	}
}

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if clock != nil {
			r.now = clock
		}
	}
}

func WithSessionLogger(logger Logger) SessionRegistryOption {
	return func(r *SessionRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewSessionRegistry(repo RepositoryManager, ttl time.Duration, opts ...SessionRegistryOption) *SessionRegistry {
	_, logger := ResolveLogger("uas.sessions", nil, nil)
	r := &SessionRegistry{
		repo:   repo,
		policy: SessionPerDevice,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *SessionRegistry) Policy() SessionPolicy {
	return r.policy
}

func (r *SessionRegistry) TTL() time.Duration {
	return r.ttl
}

// CreateOrReplaceTx stores a new session for the device with expiry
// now+TTL. A session already held for the same device key is deleted, so
// tokens bound to it stop resolving.
func (r *SessionRegistry) CreateOrReplaceTx(ctx context.Context, tx bun.IDB, sessionID, accountID uuid.UUID, tokenRef string, device DeviceContext) (*Session, error) {
	now := r.now().UTC()
	session := &Session{
		ID:         sessionID,
		AccountID:  accountID,
		TokenRef:   tokenRef,
		DeviceKey:  DeviceKey(r.policy, device),
		DeviceInfo: device.UserAgent,
		IPAddress:  device.IPAddress,
		ExpiresAt:  now.Add(r.ttl),
		CreatedAt:  timePtr(now),
		UpdatedAt:  timePtr(now),
	}

	saved, err := r.repo.Sessions().ReplaceForDeviceTx(ctx, tx, session)
	if err != nil {
		return nil, serverError(err, "failed to store session")
	}
	return saved, nil
}

// CreateOrReplace stores a session for the device holding tokenRef.
func (r *SessionRegistry) CreateOrReplace(ctx context.Context, accountID uuid.UUID, tokenRef string, device DeviceContext) (*Session, error) {
	var session *Session
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		session, err = r.CreateOrReplaceTx(ctx, tx, uuid.New(), accountID, tokenRef, device)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to create session")
	}
	return session, nil
}

// ValidateTx loads a live session or fails with ErrSessionInvalid.
func (r *SessionRegistry) ValidateTx(ctx context.Context, tx bun.IDB, sessionID uuid.UUID, forUpdate bool) (*Session, error) {
	if sessionID == uuid.Nil {
		return nil, ErrSessionInvalid
	}

	session, err := r.repo.Sessions().FindTx(ctx, tx, sessionID, forUpdate)
	if err != nil {
		if isRecordNotFound(err) {
			return nil, ErrSessionInvalid
		}
		return nil, serverError(err, "failed to load session")
	}

	if session.Expired(r.now()) {
		return nil, ErrSessionInvalid
	}
	return session, nil
}

func (r *SessionRegistry) Validate(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	var session *Session
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		session, err = r.ValidateTx(ctx, tx, sessionID, false)
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to validate session")
	}
	return session, nil
}

// Extend pushes the expiry of a live session to now+ttl.
func (r *SessionRegistry) Extend(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = r.ttl
	}

	var session *Session
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := r.now()
		extended, err := r.repo.Sessions().ExtendTx(ctx, tx, sessionID, now.Add(ttl), now)
		if err != nil {
			return serverError(err, "failed to extend session")
		}
		if extended == nil {
			return ErrSessionInvalid
		}
		session = extended
		return nil
	})
	if err != nil {
		return nil, asRichError(err, "failed to extend session")
	}
	return session, nil
}

// RotateTx moves the session from oldRef to newRef and restarts its TTL.
// It fails with ErrSessionInvalid when another request rotated first.
func (r *SessionRegistry) RotateTx(ctx context.Context, tx bun.IDB, sessionID uuid.UUID, oldRef, newRef string) (*Session, error) {
	now := r.now()
	rotated, err := r.repo.Sessions().RotateTx(ctx, tx, sessionID, oldRef, newRef, now.Add(r.ttl), now)
	if err != nil {
		return nil, serverError(err, "failed to rotate session token")
	}
	if rotated == nil {
		return nil, ErrSessionInvalid
	}
	return rotated, nil
}

func (r *SessionRegistry) RevokeOneTx(ctx context.Context, tx bun.IDB, sessionID uuid.UUID) (int, error) {
	n, err := r.repo.Sessions().DeleteTx(ctx, tx, sessionID)
	if err != nil {
		return 0, serverError(err, "failed to revoke session")
	}
	return n, nil
}

// RevokeOne deletes a session. Revoking a missing session is not an error.
func (r *SessionRegistry) RevokeOne(ctx context.Context, sessionID uuid.UUID) error {
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := r.RevokeOneTx(ctx, tx, sessionID)
		return err
	})
	return asRichError(err, "failed to revoke session")
}

func (r *SessionRegistry) RevokeAllTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, except ...uuid.UUID) (int, error) {
	n, err := r.repo.Sessions().DeleteByAccountTx(ctx, tx, accountID, except...)
	if err != nil {
		return 0, serverError(err, "failed to revoke sessions")
	}
	return n, nil
}

// RevokeAll deletes every session of the account and returns how many.
func (r *SessionRegistry) RevokeAll(ctx context.Context, accountID uuid.UUID) (int, error) {
	var count int
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		count, err = r.RevokeAllTx(ctx, tx, accountID)
		return err
	})
	if err != nil {
		return 0, asRichError(err, "failed to revoke sessions")
	}
	return count, nil
}

// Active lists the unexpired sessions of an account, newest first.
func (r *SessionRegistry) Active(ctx context.Context, accountID uuid.UUID) ([]*Session, error) {
	var out []*Session
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		out, err = r.repo.Sessions().ListActiveTx(ctx, tx, accountID, r.now())
		return err
	})
	if err != nil {
		return nil, asRichError(err, "failed to list sessions")
	}
	return out, nil
}

// Purge deletes expired rows. Expired rows are already unusable, this only
// reclaims space.
func (r *SessionRegistry) Purge(ctx context.Context) (int, error) {
	var count int
	err := r.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		count, err = r.repo.Sessions().DeleteExpiredTx(ctx, tx, r.now())
		return err
	})
	if err != nil {
		return 0, asRichError(err, "failed to purge sessions")
	}
	if count > 0 {
		r.logger.Debug("purged expired sessions", "count", count)
	}
	return count, nil
}
