package uas

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Options is the concrete Config. Field tags drive the config loader.
type Options struct {
	SigningKey              string        `koanf:"signing_key" json:"-"`
	Issuer                  string        `koanf:"issuer"`
	Audience                []string      `koanf:"audience"`
	AccessTokenTTL          time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL         time.Duration `koanf:"refresh_token_ttl"`
	SessionTTL              time.Duration `koanf:"session_ttl"`
	VerifyTokenTTL          time.Duration `koanf:"verify_token_ttl"`
	ResetTokenTTL           time.Duration `koanf:"reset_token_ttl"`
	MaxLoginAttempts        int           `koanf:"max_login_attempts"`
	LockoutDuration         time.Duration `koanf:"lockout_duration"`
	BcryptCost              int           `koanf:"bcrypt_cost"`
	SessionPolicy           SessionPolicy `koanf:"session_policy"`
	RotateRefreshTokens     bool          `koanf:"rotate_refresh_tokens"`
	ValidateSessionOnAccess bool          `koanf:"validate_session_on_access"`
	StoreTimeout            time.Duration `koanf:"store_timeout"`
	FrontendURL             string        `koanf:"frontend_url"`
	BlockedEmailDomains     []string      `koanf:"blocked_email_domains"`
	CookieSecure            bool          `koanf:"cookie_secure"`
	CookieDomain            string        `koanf:"cookie_domain"`
}

var _ Config = Options{}

// DefaultOptions returns the defaults every deployment starts from. The
// signing key is left empty on purpose: it must come from configuration.
func DefaultOptions() Options {
	return Options{
		Issuer:                  "uas",
		AccessTokenTTL:          15 * time.Minute,
		RefreshTokenTTL:         7 * 24 * time.Hour,
		SessionTTL:              7 * 24 * time.Hour,
		VerifyTokenTTL:          5 * time.Minute,
		ResetTokenTTL:           5 * time.Minute,
		MaxLoginAttempts:        5,
		LockoutDuration:         15 * time.Minute,
		BcryptCost:              DefaultBcryptCost,
		SessionPolicy:           SessionPerDevice,
		RotateRefreshTokens:     true,
		ValidateSessionOnAccess: true,
		StoreTimeout:            5 * time.Second,
		FrontendURL:             "http://localhost:3000",
		CookieSecure:            true,
	}
}

// Validate checks the options can run an Auther.
func (o Options) Validate() error {
	err := validation.ValidateStruct(&o,
		validation.Field(&o.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&o.AccessTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.RefreshTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.SessionTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.VerifyTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.ResetTokenTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.MaxLoginAttempts, validation.Required, validation.Min(1)),
		validation.Field(&o.LockoutDuration, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.SessionPolicy, validation.In(SessionPerDevice, SessionPerAccount)),
		validation.Field(&o.FrontendURL, is.URL),
	)
	if err != nil {
		return validationError(err, "invalid auth options")
	}
	return nil
}

func (o Options) GetSigningKey() string                { return o.SigningKey }
func (o Options) GetIssuer() string                    { return o.Issuer }
func (o Options) GetAudience() []string                { return o.Audience }
func (o Options) GetAccessTokenTTL() time.Duration     { return o.AccessTokenTTL }
func (o Options) GetRefreshTokenTTL() time.Duration    { return o.RefreshTokenTTL }
func (o Options) GetVerifyTokenTTL() time.Duration     { return o.VerifyTokenTTL }
func (o Options) GetResetTokenTTL() time.Duration      { return o.ResetTokenTTL }
func (o Options) GetMaxLoginAttempts() int             { return o.MaxLoginAttempts }
func (o Options) GetLockoutDuration() time.Duration    { return o.LockoutDuration }
func (o Options) GetBcryptCost() int                   { return o.BcryptCost }
func (o Options) GetRotateRefreshTokens() bool         { return o.RotateRefreshTokens }
func (o Options) GetValidateSessionOnAccess() bool     { return o.ValidateSessionOnAccess }
func (o Options) GetStoreTimeout() time.Duration       { return o.StoreTimeout }
func (o Options) GetBlockedEmailDomains() []string     { return o.BlockedEmailDomains }
func (o Options) GetCookieSecure() bool                { return o.CookieSecure }
func (o Options) GetCookieDomain() string              { return o.CookieDomain }
func (o Options) GetFrontendURL() string               { return strings.TrimRight(o.FrontendURL, "/") }

// GetSessionTTL never returns less than the refresh token lifetime, a
// session must outlive the refresh token that points at it.
func (o Options) GetSessionTTL() time.Duration {
	if o.SessionTTL < o.RefreshTokenTTL {
		return o.RefreshTokenTTL
	}
	return o.SessionTTL
}

func (o Options) GetSessionPolicy() SessionPolicy {
	if o.SessionPolicy == "" {
		return SessionPerDevice
	}
	return o.SessionPolicy
}
