// email.go

// Email ownership: issue, expire and commit verification tokens.
package account

import (
	"time"

	"github.com/MGallo-Code/linkvault/internal/token"
	"github.com/gofrs/uuid/v5"
)

// EmailVerificationTTL is how long a pending email token stays redeemable.
const EmailVerificationTTL = 60 * time.Minute

// CreateWithPendingEmail builds an unsaved account whose email awaits
// verification.
func (c *Core) CreateWithPendingEmail(username, pw, confirm, email string) (Account, error) {
	hash, err := c.hashPair(pw, confirm)
	if err != nil {
		return Account{}, err
	}
	pending, err := c.newPendingEmail(email)
	if err != nil {
		return Account{}, err
	}
	return Account{
		Username:     username,
		Password:     hash,
		PendingEmail: pending,
		Recovery:     map[uuid.UUID]RecoveryRecord{},
	}, nil
}

// ValidateEmail commits the pending email. With nothing pending it returns a
// unchanged. An expired token leaves the state unchanged and fails
// ErrInvalidToken.
func (c *Core) ValidateEmail(a Account) (Account, error) {
	if a.PendingEmail == nil {
		return a, nil
	}
	if c.now().Sub(a.PendingEmail.IssuedAt) > EmailVerificationTTL {
		return a, ErrInvalidToken
	}

	b := a.clone()
	address := b.PendingEmail.Address
	b.Email = &address
	b.PendingEmail = nil
	return b, nil
}

// RequestEmailChange replaces any pending email with a fresh one for
// address. The verified email stays in place until the new one is validated.
func (c *Core) RequestEmailChange(a Account, address string) (Account, error) {
	pending, err := c.newPendingEmail(address)
	if err != nil {
		return Account{}, err
	}
	b := a.clone()
	b.PendingEmail = pending
	return b, nil
}

// ReissueEmailVerification issues a new token and window for the pending
// address. With nothing pending it returns a unchanged.
func (c *Core) ReissueEmailVerification(a Account) (Account, error) {
	if a.PendingEmail == nil {
		return a, nil
	}
	return c.RequestEmailChange(a, a.PendingEmail.Address)
}

func (c *Core) newPendingEmail(address string) (*PendingEmail, error) {
	tok, err := token.NewID()
	if err != nil {
		return nil, err
	}
	return &PendingEmail{Address: address, Token: tok, IssuedAt: c.now()}, nil
}
