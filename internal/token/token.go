// token.go

// Package token generates one-time tokens and ids for email verification and
// password recovery. Tokens are UUIDv4 strings (122 random bits); the stored
// form is an Argon2id hash produced by the password hasher.
package token

import (
	"fmt"

	"github.com/MGallo-Code/linkvault/internal/password"
	"github.com/gofrs/uuid/v5"
)

// New returns a fresh random token in canonical UUID form.
func New() (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewID returns a fresh random UUIDv4.
func NewID() (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generating token: %w", err)
	}
	return id, nil
}

// Hash returns the stored form of tok.
func Hash(h *password.Hasher, tok string) (string, error) {
	return h.Hash(tok)
}

// Verify reports whether tok matches hashed. Same contract as password.Hasher.Verify.
func Verify(h *password.Hasher, tok, hashed string) (bool, error) {
	return h.Verify(tok, hashed)
}
