package uas

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// LockState is where an account sits in the lockout cycle.
type LockState int

const (
	// LockOpen accepts login attempts.
	LockOpen LockState = iota
	// LockActive rejects attempts until the lock ends.
	LockActive
	// LockExpired had a lock that has run out. The counter must be reset
	// before credentials are checked.
	LockExpired
)

func (s LockState) String() string {
	switch s {
	case LockActive:
		return "active"
	case LockExpired:
		return "expired"
	default:
		return "open"
	}
}

// LockoutGuard counts failed logins and locks the account once the
// threshold is reached. All state lives on the account row.
type LockoutGuard struct {
	accounts    Accounts
	maxAttempts int
	lockFor     time.Duration
	now         func() time.Time
}

// LockoutOption customizes the guard.
type LockoutOption func(*LockoutGuard)

// WithLockoutClock injects a custom clock (useful for tests).
func WithLockoutClock(clock func() time.Time) LockoutOption {
	return func(g *LockoutGuard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// WithLockoutPolicy overrides the threshold and lock length.
func WithLockoutPolicy(maxAttempts int, lockFor time.Duration) LockoutOption {
	return func(g *LockoutGuard) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if lockFor > 0 {
			g.lockFor = lockFor
		}
	}
}

// MaxLoginAttempts is the default number of failures that locks an account.
const MaxLoginAttempts = 5

// LockoutPeriod is the default lock length.
const LockoutPeriod = 15 * time.Minute

func NewLockoutGuard(accounts Accounts, opts ...LockoutOption) *LockoutGuard {
	g := &LockoutGuard{
		accounts:    accounts,
		maxAttempts: MaxLoginAttempts,
		lockFor:     LockoutPeriod,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Check classifies the account lock at the current time.
func (g *LockoutGuard) Check(account *Account) LockState {
	if account == nil || account.LockedUntil == nil {
		return LockOpen
	}
	if g.now().Before(*account.LockedUntil) {
		return LockActive
	}
	return LockExpired
}

// Rejection returns the AccountLocked error for a locked account.
func (g *LockoutGuard) Rejection(account *Account) error {
	if account == nil || account.LockedUntil == nil {
		return nil
	}
	return AccountLockedError(*account.LockedUntil, g.now())
}

// EnforceTx runs the pre-check: an active lock is rejected, an expired lock
// is cleared. The returned account reflects the cleared state.
func (g *LockoutGuard) EnforceTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	switch g.Check(account) {
	case LockActive:
		return account, g.Rejection(account)
	case LockExpired:
		return g.accounts.ResetLockoutTx(ctx, tx, account.ID, g.now())
	default:
		return account, nil
	}
}

// RecordFailureTx atomically bumps the counter and sets the lock when the
// increment reaches the threshold.
func (g *LockoutGuard) RecordFailureTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	now := g.now()
	return g.accounts.RecordFailedLoginTx(ctx, tx, account.ID, g.maxAttempts, now.Add(g.lockFor), now)
}

// ResetTx clears the counter and any lock.
func (g *LockoutGuard) ResetTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	return g.accounts.ResetLockoutTx(ctx, tx, account.ID, g.now())
}

func (g *LockoutGuard) MaxAttempts() int {
	return g.maxAttempts
}
