package uas

import (
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	TextCodeInvalidCreds      = "INVALID_CREDENTIALS"
	TextCodeAccountLocked     = "ACCOUNT_LOCKED"
	TextCodeDuplicateAccount  = "DUPLICATE_ACCOUNT"
	TextCodeTokenInvalid      = "TOKEN_INVALID"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
	TextCodeTokenMalformed    = "TOKEN_MALFORMED"
	TextCodeTokenWrongKind    = "TOKEN_WRONG_KIND"
	TextCodeTokenBadSignature = "TOKEN_BAD_SIGNATURE"
	TextCodeSessionInvalid    = "SESSION_INVALID"
	TextCodeUnauthorized      = "UNAUTHORIZED"
	TextCodeNotFound          = "NOT_FOUND"
	TextCodeServerError       = "SERVER_ERROR"
	TextCodeEmptyPassword     = "EMPTY_PASSWORD"
	TextCodeValidation        = "VALIDATION_ERROR"
	TextCodeInvalidTokenTTL   = "INVALID_TOKEN_TTL"
)

// MetaRetryAfterSeconds is the metadata key holding the lock remaining time.
const MetaRetryAfterSeconds = "retry_after_seconds"

// ErrInvalidCredentials is returned for unknown accounts, wrong passwords
// and accounts that are not yet allowed to log in.
var ErrInvalidCredentials = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeInvalidCreds)

// ErrAccountLocked is the template for lockout rejections, see AccountLockedError.
var ErrAccountLocked = goerrors.New("account temporarily locked after repeated failed logins", goerrors.CategoryRateLimit).
	WithCode(http.StatusTooManyRequests).
	WithTextCode(TextCodeAccountLocked)

// ErrDuplicateAccount is returned when the email or username is taken.
var ErrDuplicateAccount = goerrors.New("an account with this email or username already exists", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict).
	WithTextCode(TextCodeDuplicateAccount)

// ErrTokenInvalid is the public face of every token failure.
var ErrTokenInvalid = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenInvalid)

var ErrTokenExpired = goerrors.New("token has expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenExpired)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenMalformed)

var ErrTokenWrongKind = goerrors.New("token kind does not match", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenWrongKind)

var ErrTokenBadSignature = goerrors.New("token signature is invalid", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeTokenBadSignature)

// ErrSessionInvalid is returned when a session is missing, expired or no
// longer holds the presented refresh token.
var ErrSessionInvalid = goerrors.New("session is invalid or has expired", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized).
	WithTextCode(TextCodeSessionInvalid)

// ErrUnauthorized is returned when the caller lacks the required role.
var ErrUnauthorized = goerrors.New("not allowed to perform this action", goerrors.CategoryAuthz).
	WithCode(goerrors.CodeForbidden).
	WithTextCode(TextCodeUnauthorized)

var ErrNotFound = goerrors.New("record not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound).
	WithTextCode(TextCodeNotFound)

// ErrServerError is the opaque error returned for infrastructure failures.
var ErrServerError = goerrors.New("an unexpected server error occurred", goerrors.CategoryInternal).
	WithCode(goerrors.CodeInternal).
	WithTextCode(TextCodeServerError)

var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryValidation).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeEmptyPassword)

var ErrInvalidTokenTTL = goerrors.New("token TTL must be positive", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeInvalidTokenTTL)

var tokenTextCodes = []string{
	TextCodeTokenInvalid,
	TextCodeTokenExpired,
	TextCodeTokenMalformed,
	TextCodeTokenWrongKind,
	TextCodeTokenBadSignature,
}

// AccountLockedError builds the lockout rejection for a lock ending at until.
func AccountLockedError(until, now time.Time) *goerrors.Error {
	retry := until.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}

	return ErrAccountLocked.Clone().WithMetadata(map[string]any{
		MetaRetryAfterSeconds: int(retry.Round(time.Second) / time.Second),
	})
}

// RetryAfter extracts the lock remaining time from an AccountLocked error.
func RetryAfter(err error) (time.Duration, bool) {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.TextCode != TextCodeAccountLocked {
		return 0, false
	}

	switch v := richErr.Metadata[MetaRetryAfterSeconds].(type) {
	case int:
		return time.Duration(v) * time.Second, true
	case int64:
		return time.Duration(v) * time.Second, true
	case float64:
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}

// HasTextCode reports whether err is a rich error with one of the codes.
func HasTextCode(err error, codes ...string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}

	for _, code := range codes {
		if richErr.TextCode == code {
			return true
		}
	}
	return false
}

// IsTokenInvalid reports whether err belongs to the token failure family.
func IsTokenInvalid(err error) bool {
	return HasTextCode(err, tokenTextCodes...)
}

func IsInvalidCredentials(err error) bool { return HasTextCode(err, TextCodeInvalidCreds) }
func IsAccountLocked(err error) bool      { return HasTextCode(err, TextCodeAccountLocked) }
func IsDuplicateAccount(err error) bool   { return HasTextCode(err, TextCodeDuplicateAccount) }
func IsSessionInvalid(err error) bool     { return HasTextCode(err, TextCodeSessionInvalid) }
func IsUnauthorized(err error) bool       { return HasTextCode(err, TextCodeUnauthorized) }
func IsNotFound(err error) bool           { return HasTextCode(err, TextCodeNotFound) }
func IsServerError(err error) bool        { return HasTextCode(err, TextCodeServerError) }

// serverError wraps an infrastructure failure. The cause stays available to
// logs while PublicError hides it from clients.
func serverError(err error, message string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeServerError)
}

func validationError(err error, message string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(goerrors.CodeBadRequest).
		WithTextCode(TextCodeValidation)
}

// asRichError returns err untouched when it already is a rich error and
// wraps it as a server error otherwise.
func asRichError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return serverError(err, message)
}

// PublicError maps any error to the form safe to show a client. Token
// failures collapse to ErrTokenInvalid and anything unknown becomes
// ErrServerError.
func PublicError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return ErrServerError
	}

	switch {
	case IsTokenInvalid(richErr):
		return ErrTokenInvalid
	case richErr.TextCode == TextCodeAccountLocked:
		return richErr
	case richErr.TextCode == TextCodeServerError, richErr.Category == goerrors.CategoryInternal:
		return ErrServerError
	}

	switch richErr.TextCode {
	case TextCodeInvalidCreds, TextCodeDuplicateAccount, TextCodeSessionInvalid,
		TextCodeUnauthorized, TextCodeNotFound, TextCodeEmptyPassword, TextCodeValidation,
		TextCodeInvalidTokenTTL:
		return richErr
	}

	switch richErr.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput, goerrors.CategoryAuth,
		goerrors.CategoryAuthz, goerrors.CategoryNotFound, goerrors.CategoryConflict:
		return richErr
	}

	return ErrServerError
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
