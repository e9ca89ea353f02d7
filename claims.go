package uas

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind tells what a token may be used for.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
	TokenKindVerify  TokenKind = "verify"
	TokenKindReset   TokenKind = "reset"
)

// IsValid checks the kind is one we issue
func (k TokenKind) IsValid() bool {
	switch k {
	case TokenKindAccess, TokenKindRefresh, TokenKindVerify, TokenKindReset:
		return true
	default:
		return false
	}
}

// Claims is the closed set of fields a token carries. Kind, TokenID,
// IssuedAt and ExpiresAt are stamped by the codec on Issue.
type Claims struct {
	AccountID uuid.UUID
	Email     string
	Username  string
	// Role is only carried by access tokens.
	Role      Role
	SessionID uuid.UUID
	Kind      TokenKind
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// PasswordStamp is only carried by reset tokens, see PasswordStamp.
	PasswordStamp string
}

// ClaimsForAccount builds the identity part of the claims.
func ClaimsForAccount(account *Account) Claims {
	if account == nil {
		return Claims{}
	}
	return Claims{
		AccountID: account.ID,
		Email:     account.Email,
		Username:  account.Username,
		Role:      account.Role,
	}
}

// PasswordStamp fingerprints a password hash. A reset token carries the
// stamp of the hash it was issued against and stops working once the
// password changes.
func PasswordStamp(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}

// Remaining returns how long the token stays valid after now.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c == nil || c.ExpiresAt.IsZero() {
		return 0
	}
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IssuedToken is a signed token plus the metadata callers need to store.
type IssuedToken struct {
	Value     string    `json:"token"`
	TokenID   string    `json:"-"`
	Kind      TokenKind `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenPair is the result of a login or refresh.
type TokenPair struct {
	Access    IssuedToken `json:"access"`
	Refresh   IssuedToken `json:"refresh"`
	SessionID uuid.UUID   `json:"session_id"`
	Account   *Account    `json:"account,omitempty"`
}

// wireClaims is the JWT body.
type wireClaims struct {
	jwt.RegisteredClaims
	Email     string    `json:"email,omitempty"`
	Username  string    `json:"username,omitempty"`
	Role      string    `json:"role,omitempty"`
	Kind      TokenKind `json:"kind"`
	SessionID string    `json:"sid,omitempty"`
	Stamp     string    `json:"pst,omitempty"`
}

func (w *wireClaims) toClaims() (*Claims, error) {
	accountID, err := uuid.Parse(w.Subject)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	claims := &Claims{
		AccountID: accountID,
		Email:     w.Email,
		Username:  w.Username,
		Role:      Role(w.Role),
		Kind:      w.Kind,
		TokenID:   w.ID,

		PasswordStamp: w.Stamp,
	}

	if w.SessionID != "" {
		sid, err := uuid.Parse(w.SessionID)
		if err != nil {
			return nil, ErrTokenMalformed
		}
		claims.SessionID = sid
	}

	if w.IssuedAt != nil {
		claims.IssuedAt = w.IssuedAt.Time
	}
	if w.ExpiresAt != nil {
		claims.ExpiresAt = w.ExpiresAt.Time
	}

	return claims, nil
}
