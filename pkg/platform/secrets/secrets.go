// Package secrets generates opaque tokens and checks bcrypt-hashed secrets
// (user passwords and consumer application credentials).
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
)

// tokenBytes is the entropy of a generated token (256 bits).
const tokenBytes = 32

// dummyHash is compared against when the account does not exist so unknown
// users cost the same bcrypt round as a wrong password.
var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("unused"), bcrypt.DefaultCost)
	return h
})

// Generate returns a cryptographically random, URL-safe token.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of secret at the given cost. A cost of 0 uses
// bcrypt.DefaultCost.
func Hash(secret string, cost int) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext secret against a bcrypt hash.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeInvalidInput, "invalid secret")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}

// BurnCompare spends one bcrypt comparison without a real hash.
func BurnCompare(secret string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(secret))
}
