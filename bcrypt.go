package uas

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher turns plaintext passwords into one-way hashes.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	// Verify never returns an error: mismatches and malformed hashes are false.
	Verify(plaintext, hash string) bool
}

// BcryptHasher is the bcrypt PasswordHasher.
type BcryptHasher struct {
	cost      int
	dummyOnce sync.Once
	dummy     string
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// NewBcryptHasher creates a hasher. A cost outside bcrypt's range falls
// back to the build default.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = passwordHashCost()
	}
	return &BcryptHasher{cost: cost}
}

// Hash will generate a password hash
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrNoEmptyString
	}

	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", validationError(err, "password is too long")
		}
		return "", serverError(err, "failed to hash password")
	}
	return string(out), nil
}

// Verify compares plaintext against hash.
func (h *BcryptHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// burn spends one bcrypt comparison so unknown accounts cost as much as
// known ones.
func (h *BcryptHasher) burn(plaintext string) {
	h.dummyOnce.Do(func() {
		out, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), h.cost)
		if err == nil {
			h.dummy = string(out)
		}
	})
	h.Verify(plaintext, h.dummy)
}

// RandomPasswordHash returns a hash nobody knows the password for. Social
// accounts get one so the password path stays closed until a reset.
func RandomPasswordHash(h PasswordHasher) (string, error) {
	return h.Hash(uuid.NewString() + uuid.NewString())
}

type timingBurner interface {
	burn(plaintext string)
}
