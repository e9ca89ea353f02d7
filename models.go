package uas

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Account is the credential record of a user.
type Account struct {
	bun.BaseModel       `bun:"table:accounts,alias:acc"`
	ID                  uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	Email               string     `bun:"email,notnull,unique" json:"email"`
	Username            string     `bun:"username,notnull,unique" json:"username"`
	PasswordHash        string     `bun:"password_hash,notnull" json:"-"`
	Role                Role       `bun:"role,notnull" json:"role"`
	IsActive            bool       `bun:"is_active,notnull" json:"is_active"`
	IsVerified          bool       `bun:"is_verified,notnull" json:"is_verified"`
	FailedLoginAttempts int        `bun:"failed_login_attempts,notnull" json:"-"`
	LockedUntil         *time.Time `bun:"locked_until,nullzero" json:"locked_until,omitempty"`
	LastLogin           *time.Time `bun:"last_login,nullzero" json:"last_login,omitempty"`
	CreatedAt           *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt           *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// CanLogin reports whether the account may hold a session.
func (a *Account) CanLogin() bool {
	return a != nil && a.IsActive && a.IsVerified
}

// Session tracks one logged in device of an account. The ID is the public
// session key carried by tokens as "sid".
type Session struct {
	bun.BaseModel `bun:"table:account_sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id"`
	TokenRef      string     `bun:"token_ref,notnull,unique" json:"-"`
	DeviceKey     string     `bun:"device_key,notnull" json:"-"`
	DeviceInfo    string     `bun:"device_info" json:"device_info,omitempty"`
	IPAddress     string     `bun:"ip_address" json:"ip_address,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Expired reports whether the session is no longer usable at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// ActivityLog is the persisted form of an ActivityEvent.
type ActivityLog struct {
	bun.BaseModel `bun:"table:account_activity_logs,alias:aal"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id"`
	AccountID     *uuid.UUID     `bun:"account_id,type:uuid" json:"account_id,omitempty"`
	Email         string         `bun:"email" json:"email,omitempty"`
	Action        string         `bun:"action,notnull" json:"action"`
	IPAddress     string         `bun:"ip_address" json:"ip_address,omitempty"`
	DeviceInfo    string         `bun:"device_info" json:"device_info,omitempty"`
	Metadata      map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,notnull" json:"created_at"`
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
