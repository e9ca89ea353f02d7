package social

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/goliatone/go-errors"
)

// StateManager seals the OAuth state that travels through the provider.
type StateManager interface {
	Encode(state *OAuthState) (string, error)
	Decode(token string) (*OAuthState, error)
}

// OAuthState is the payload carried through the provider round trip. The
// PKCE verifier never leaves the server in clear text.
type OAuthState struct {
	Nonce        string `json:"n"`
	Provider     string `json:"p"`
	CodeVerifier string `json:"cv,omitempty"`
	RedirectURL  string `json:"r,omitempty"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

func (s OAuthState) expired(now time.Time) bool {
	return now.After(time.Unix(s.ExpiresAt, 0))
}

// Token layout: version(1) | hmac(32) | gcm nonce | ciphertext.
const stateVersion byte = 1

// stateAAD binds the ciphertext to its purpose so a blob sealed with the
// same keys for something else does not open as a state.
var stateAAD = []byte("uas.social.state.v1")

// EncryptedStateManager seals states with AES-GCM and authenticates the
// whole token with HMAC-SHA256 before anything is decrypted.
type EncryptedStateManager struct {
	aead    cipher.AEAD
	initErr error
	hmacKey []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewEncryptedStateManager builds the cipher once. An invalid encryption key
// (AES needs 16, 24 or 32 bytes) makes every Encode and Decode fail.
func NewEncryptedStateManager(encryptionKey, hmacKey []byte, ttl time.Duration) *EncryptedStateManager {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	sm := &EncryptedStateManager{
		hmacKey: append([]byte(nil), hmacKey...),
		ttl:     ttl,
		now:     time.Now,
	}

	block, err := aes.NewCipher(encryptionKey)
	if err == nil {
		sm.aead, err = cipher.NewGCM(block)
	}
	if err != nil {
		sm.initErr = errors.Wrap(err, errors.CategoryInternal, "oauth state cipher unavailable").
			WithCode(errors.CodeInternal)
	}
	if len(sm.hmacKey) == 0 && sm.initErr == nil {
		sm.initErr = errors.New("oauth state hmac key is empty", errors.CategoryInternal).
			WithCode(errors.CodeInternal)
	}

	return sm
}

func (sm *EncryptedStateManager) WithClock(now func() time.Time) *EncryptedStateManager {
	if now != nil {
		sm.now = now
	}
	return sm
}

// Encode fills the nonce and timestamps on a copy of state and seals it.
func (sm *EncryptedStateManager) Encode(state *OAuthState) (string, error) {
	if state == nil {
		return "", ErrInvalidState
	}
	if sm.initErr != nil {
		return "", sm.initErr
	}

	payload := *state
	now := sm.now()
	if payload.IssuedAt == 0 {
		payload.IssuedAt = now.Unix()
	}
	if payload.ExpiresAt == 0 {
		payload.ExpiresAt = now.Add(sm.ttl).Unix()
	}
	if payload.Nonce == "" {
		nonce, err := randomString(16)
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate state nonce")
		}
		payload.Nonce = nonce
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to marshal oauth state")
	}

	gcmNonce := make([]byte, sm.aead.NonceSize())
	if _, err := rand.Read(gcmNonce); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate gcm nonce")
	}
	sealed := sm.aead.Seal(gcmNonce, gcmNonce, plaintext, stateAAD)

	out := make([]byte, 0, 1+sha256.Size+len(sealed))
	out = append(out, stateVersion)
	out = append(out, sm.sign(sealed)...)
	out = append(out, sealed...)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode authenticates, decrypts and checks expiry. Any malformed or
// tampered token is ErrInvalidState.
func (sm *EncryptedStateManager) Decode(token string) (*OAuthState, error) {
	if sm.initErr != nil {
		return nil, sm.initErr
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < 1+sha256.Size+sm.aead.NonceSize() || raw[0] != stateVersion {
		return nil, ErrInvalidState
	}

	mac, sealed := raw[1:1+sha256.Size], raw[1+sha256.Size:]
	if !hmac.Equal(mac, sm.sign(sealed)) {
		return nil, ErrInvalidState
	}

	n := sm.aead.NonceSize()
	plaintext, err := sm.aead.Open(nil, sealed[:n], sealed[n:], stateAAD)
	if err != nil {
		return nil, ErrInvalidState
	}

	var state OAuthState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, ErrInvalidState
	}

	if state.expired(sm.now()) {
		return nil, ErrStateExpired
	}

	return &state, nil
}

func (sm *EncryptedStateManager) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, sm.hmacKey)
	mac.Write([]byte{stateVersion})
	mac.Write(data)
	return mac.Sum(nil)
}

func randomString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// generateCodeVerifier returns a 43 char PKCE verifier (RFC 7636).
func generateCodeVerifier() (string, error) {
	return randomString(32)
}

func computeCodeChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}
