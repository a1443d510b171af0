// recovery.go

// Password recovery: single-use, time-limited, hashed tokens.
package account

import (
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/linkvault/internal/password"
	"github.com/MGallo-Code/linkvault/internal/token"
	"github.com/gofrs/uuid/v5"
)

// RecoveryTTL is how long a persisted recovery record stays redeemable.
const RecoveryTTL = 5 * time.Minute

// RecoveryRecord is either a ClearRecovery (fresh, token known) or a
// HashedRecovery (persisted, hash only). The set of implementations is closed.
type RecoveryRecord interface {
	RecoveryID() uuid.UUID
	AccountID() int64
	HashedToken() string
	Expired(now time.Time) bool
	TokenMatches(h *password.Hasher, tok string) (bool, error)

	recoveryRecord()
}

// ClearRecovery is a freshly issued record. Token is for one-time delivery by
// mail and is never persisted. It does not expire.
type ClearRecovery struct {
	ID     uuid.UUID
	Token  string
	Hashed string
	UserID int64
}

func (r ClearRecovery) RecoveryID() uuid.UUID  { return r.ID }
func (r ClearRecovery) AccountID() int64       { return r.UserID }
func (r ClearRecovery) HashedToken() string    { return r.Hashed }
func (r ClearRecovery) Expired(time.Time) bool { return false }
func (ClearRecovery) recoveryRecord()          {}

func (r ClearRecovery) TokenMatches(h *password.Hasher, tok string) (bool, error) {
	return token.Verify(h, tok, r.Hashed)
}

// Persisted returns the stored form of r, generated at at.
func (r ClearRecovery) Persisted(at time.Time) HashedRecovery {
	return HashedRecovery{ID: r.ID, Hashed: r.Hashed, UserID: r.UserID, GeneratedAt: at}
}

// HashedRecovery is a record as loaded from the store.
type HashedRecovery struct {
	ID          uuid.UUID
	Hashed      string
	UserID      int64
	GeneratedAt time.Time
}

func (r HashedRecovery) RecoveryID() uuid.UUID { return r.ID }
func (r HashedRecovery) AccountID() int64      { return r.UserID }
func (r HashedRecovery) HashedToken() string   { return r.Hashed }
func (HashedRecovery) recoveryRecord()         {}

// Expired reports whether more than RecoveryTTL has passed since generation.
func (r HashedRecovery) Expired(now time.Time) bool {
	return now.Sub(r.GeneratedAt) > RecoveryTTL
}

func (r HashedRecovery) TokenMatches(h *password.Hasher, tok string) (bool, error) {
	return token.Verify(h, tok, r.Hashed)
}

// RequestRecovery issues a new recovery record for userID.
func (c *Core) RequestRecovery(userID int64) (ClearRecovery, error) {
	id, err := token.NewID()
	if err != nil {
		return ClearRecovery{}, err
	}
	tok, err := token.New()
	if err != nil {
		return ClearRecovery{}, err
	}
	hashed, err := token.Hash(c.hasher, tok)
	if err != nil {
		return ClearRecovery{}, err
	}
	return ClearRecovery{ID: id, Token: tok, Hashed: hashed, UserID: userID}, nil
}

// AddRecovery purges expired records and inserts r. Other live records stay.
func (c *Core) AddRecovery(a Account, r RecoveryRecord) Account {
	b := a.clone()
	c.purgeExpired(&b)
	b.Recovery[r.RecoveryID()] = r
	return b
}

// RecoverPassword redeems recovery id with tok and stages the new password.
//
// A missing, expired or mismatched record fails ErrInvalidRecovery and the
// record set is untouched apart from purging. A matched record is consumed
// even if the new pair is then rejected; that failure wraps both
// ErrInvalidRecovery and ErrRecoveryConsumed and the returned Account holds
// the consumed state.
func (c *Core) RecoverPassword(a Account, id uuid.UUID, tok, pw, confirm string) (Account, error) {
	b := a.clone()
	c.purgeExpired(&b)

	rec, ok := b.Recovery[id]
	if !ok {
		return Account{}, ErrInvalidRecovery
	}
	match, err := rec.TokenMatches(c.hasher, tok)
	if err != nil {
		return Account{}, err
	}
	if !match {
		return Account{}, ErrInvalidRecovery
	}
	delete(b.Recovery, id)

	hash, err := c.hashPair(pw, confirm)
	if errors.Is(err, ErrInvalidPassword) {
		// Rule failures surface as a plain invalid recovery.
		return b, fmt.Errorf("%w: %w", ErrInvalidRecovery, ErrRecoveryConsumed)
	}
	if err != nil {
		return Account{}, err
	}
	b.PendingPassword = hash
	return b, nil
}

// PurgeExpiredRecovery drops expired recovery records.
func (c *Core) PurgeExpiredRecovery(a Account) Account {
	b := a.clone()
	c.purgeExpired(&b)
	return b
}

func (c *Core) purgeExpired(a *Account) {
	now := c.now()
	for id, r := range a.Recovery {
		if r.Expired(now) {
			delete(a.Recovery, id)
		}
	}
}
