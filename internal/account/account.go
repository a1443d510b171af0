// account.go

// Package account holds the account entity and the pure operations that move
// it between states. Every operation takes a snapshot and returns a new one or
// a typed error; the input is never modified and nothing here does I/O.
package account

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/MGallo-Code/linkvault/internal/password"
	"github.com/gofrs/uuid/v5"
)

// Validation and authentication failures. Compare with errors.Is.
var (
	// ErrInvalidPassword wraps a *password.RuleError carrying the checklist.
	ErrInvalidPassword = errors.New("invalid password")

	ErrCurrentPasswordIncorrect = errors.New("current password incorrect")
	ErrInvalidToken             = errors.New("invalid or expired token")
	ErrInvalidRecovery          = errors.New("invalid recovery")
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrEmailNotVerified         = errors.New("email not verified")

	// ErrRecoveryConsumed accompanies ErrInvalidRecovery when the token matched
	// but the new password was rejected. The returned Account has the record
	// removed and must be saved so the token cannot be replayed.
	ErrRecoveryConsumed = errors.New("recovery token consumed")
)

// Account is one user's credentials and pending security state.
// ID is zero until the first save.
type Account struct {
	ID       int64
	Username string
	Password string // PHC Argon2id hash

	// PendingPassword is a new hash staged by a password change or recovery.
	// The store moves it into Password when saving.
	PendingPassword string

	Email        *string // nil until first verification
	PendingEmail *PendingEmail

	Recovery map[uuid.UUID]RecoveryRecord
}

// PendingEmail is an address awaiting proof of ownership.
type PendingEmail struct {
	Address  string
	Token    uuid.UUID
	IssuedAt time.Time
}

// Verified reports whether the account has a confirmed email address.
func (a Account) Verified() bool {
	return a.Email != nil
}

// clone returns a deep copy so operations never alias their input.
func (a Account) clone() Account {
	b := a
	if a.Email != nil {
		email := *a.Email
		b.Email = &email
	}
	if a.PendingEmail != nil {
		pe := *a.PendingEmail
		b.PendingEmail = &pe
	}
	b.Recovery = make(map[uuid.UUID]RecoveryRecord, len(a.Recovery))
	maps.Copy(b.Recovery, a.Recovery)
	return b
}

// Core runs account operations with a shared hasher and clock.
type Core struct {
	hasher *password.Hasher
	now    func() time.Time
}

// NewCore returns a Core. A nil now uses time.Now.
func NewCore(h *password.Hasher, now func() time.Time) *Core {
	if now == nil {
		now = time.Now
	}
	return &Core{hasher: h, now: now}
}

// Hasher returns the hasher used for passwords and tokens.
func (c *Core) Hasher() *password.Hasher {
	return c.hasher
}

// hashPair validates the pair and hashes the first value.
func (c *Core) hashPair(pw, confirm string) (string, error) {
	if err := password.ValidatePair(pw, confirm); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPassword, err)
	}
	return c.hasher.Hash(pw)
}

// Authenticate checks pw against a. A nil account still costs one hash
// verification so a missing username is indistinguishable from a wrong password.
func (c *Core) Authenticate(a *Account, pw string) error {
	if a == nil {
		c.hasher.VerifyDummy(pw)
		return ErrInvalidCredentials
	}
	ok, err := c.hasher.Verify(pw, a.Password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if !a.Verified() {
		return ErrEmailNotVerified
	}
	return nil
}

// UpdatePassword stages a new password after proving knowledge of the
// current one. The current password is checked before the new pair.
func (c *Core) UpdatePassword(a Account, current, pw, confirm string) (Account, error) {
	ok, err := c.hasher.Verify(current, a.Password)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrCurrentPasswordIncorrect
	}

	hash, err := c.hashPair(pw, confirm)
	if err != nil {
		return Account{}, err
	}

	b := a.clone()
	b.PendingPassword = hash
	return b, nil
}
