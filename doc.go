// Package uas is the authentication and session core of a multi-tenant web
// application: registration with email verification, credential login,
// access and refresh token issuance, per-device sessions, password reset,
// role based authorization and lockout after repeated failures.
//
// Accounts and sessions:
//   - Accounts are persisted through Bun (see RepositoryManager). Emails are
//     stored trimmed and lower-cased, and inactive or unverified accounts never
//     receive a session.
//   - Sessions are keyed by account and device fingerprint by default. The
//     session id travels in every token as the "sid" claim and the session row
//     holds the id of the current refresh token, so a rotated refresh token can
//     not be replayed.
//
// Tokens:
//   - TokenService signs HS256 JWTs carrying a closed Claims struct. Every token
//     has a kind (access, refresh, verify, reset) and Verify rejects a token of
//     the wrong kind.
//
// Activity sinks:
//   - ActivitySink receives audit events (logins, lockouts, resets, role
//     changes). Sinks run best-effort after the transaction commits; see
//     NewActivityLogSink and the metrics subpackage.
package uas
