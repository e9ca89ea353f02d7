package uas

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenCodec issues and verifies signed tokens.
type TokenCodec interface {
	Issue(claims Claims, kind TokenKind, ttl time.Duration) (IssuedToken, error)
	Verify(token string, expected TokenKind) (*Claims, error)
}

// TokenService is the HS256 TokenCodec.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

var _ TokenCodec = (*TokenService)(nil)

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, issuer string, audience []string) *TokenService {
	var aud jwt.ClaimStrings
	if len(audience) > 0 {
		aud = make(jwt.ClaimStrings, len(audience))
		copy(aud, audience)
	}

	_, logger := ResolveLogger("uas.tokens", nil, nil)
	return &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		audience:   aud,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock overrides the time source used to stamp and check tokens.
func (ts *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		ts.now = now
	}
	return ts
}

func (ts *TokenService) WithLogger(logger Logger) *TokenService {
	if logger != nil {
		ts.logger = logger
	}
	return ts
}

// Issue signs claims as a token of the given kind that expires after ttl.
func (ts *TokenService) Issue(claims Claims, kind TokenKind, ttl time.Duration) (IssuedToken, error) {
	if ttl <= 0 {
		return IssuedToken{}, ErrInvalidTokenTTL
	}
	if !kind.IsValid() {
		return IssuedToken{}, goerrors.New(fmt.Sprintf("unknown token kind %q", kind), goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}
	if claims.AccountID == uuid.Nil {
		return IssuedToken{}, goerrors.New("token subject is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	now := ts.now()
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(ttl))

	wire := &wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   claims.AccountID.String(),
			Audience:  ts.audience,
			IssuedAt:  iat,
			ExpiresAt: exp,
		},
		Email:    claims.Email,
		Username: claims.Username,
		Kind:     kind,
	}

	if kind == TokenKindAccess {
		wire.Role = string(claims.Role)
	}
	if kind == TokenKindReset {
		wire.Stamp = claims.PasswordStamp
	}
	if claims.SessionID != uuid.Nil {
		wire.SessionID = claims.SessionID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(ts.signingKey)
	if err != nil {
		return IssuedToken{}, serverError(err, "failed to sign JWT")
	}

	return IssuedToken{
		Value:     signed,
		TokenID:   wire.ID,
		Kind:      kind,
		ExpiresAt: exp.Time,
	}, nil
}

// Verify checks signature, expiry, issuer, audience and kind. Failures are
// always one of the token errors (see IsTokenInvalid).
func (ts *TokenService) Verify(tokenString string, expected TokenKind) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &wireClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token service rejected unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return nil, mapJWTError(err)
	}

	wire, ok := token.Claims.(*wireClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	if wire.Kind != expected {
		return nil, ErrTokenWrongKind
	}

	return wire.toClaims()
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrTokenBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenInvalid
	}
}
