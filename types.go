package uas

import (
	"context"
	"time"
)

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetSessionTTL() time.Duration
	GetVerifyTokenTTL() time.Duration
	GetResetTokenTTL() time.Duration
	GetMaxLoginAttempts() int
	GetLockoutDuration() time.Duration
	GetBcryptCost() int
	GetSessionPolicy() SessionPolicy
	GetRotateRefreshTokens() bool
	GetValidateSessionOnAccess() bool
	GetStoreTimeout() time.Duration
	GetFrontendURL() string
	GetBlockedEmailDomains() []string
	GetCookieSecure() bool
	GetCookieDomain() string
}

// DeviceContext describes the client a request came from.
type DeviceContext struct {
	UserAgent string
	IPAddress string
	// DeviceID is an opaque id the client keeps per install, optional.
	DeviceID string
}

// Denylist records access token ids that must be refused before they expire.
type Denylist interface {
	Deny(ctx context.Context, tokenID string, ttl time.Duration) error
	IsDenied(ctx context.Context, tokenID string) (bool, error)
}

// LogoutScope selects which sessions a logout ends.
type LogoutScope int

const (
	LogoutDevice LogoutScope = iota
	LogoutAllDevices
)
