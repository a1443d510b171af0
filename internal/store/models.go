// models.go -- Row types and errors for the store package.
package store

import (
	"errors"
	"time"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/gofrs/uuid/v5"
)

// ErrUsernameTaken is returned by Save when another account already holds
// the username (case-insensitive).
var ErrUsernameTaken = errors.New("username taken")

// ErrEmailTaken is returned by Save when another account already holds the
// verified email (case-insensitive).
var ErrEmailTaken = errors.New("email taken")

// ErrAccountNotFound is returned by Save and Update for an id that no longer exists.
var ErrAccountNotFound = errors.New("account not found")

// accountRow mirrors a row in the accounts table.
// Nullable columns are pointers -- nil means SQL NULL.
type accountRow struct {
	ID                   int64
	Username             string
	PasswordHash         string
	Email                *string
	PendingEmail         *string
	PendingEmailToken    uuid.NullUUID
	PendingEmailIssuedAt *time.Time
}

// recoveryRow mirrors a row in the recovery_records table.
type recoveryRow struct {
	ID          uuid.UUID
	AccountID   int64
	TokenHash   string
	GeneratedAt time.Time
}

// toAccount assembles the entity. Loaded recovery records are always Hashed.
func (r accountRow) toAccount(recovery []recoveryRow) account.Account {
	a := account.Account{
		ID:       r.ID,
		Username: r.Username,
		Password: r.PasswordHash,
		Email:    r.Email,
		Recovery: make(map[uuid.UUID]account.RecoveryRecord, len(recovery)),
	}
	if r.PendingEmail != nil && r.PendingEmailToken.Valid && r.PendingEmailIssuedAt != nil {
		a.PendingEmail = &account.PendingEmail{
			Address:  *r.PendingEmail,
			Token:    r.PendingEmailToken.UUID,
			IssuedAt: *r.PendingEmailIssuedAt,
		}
	}
	for _, rec := range recovery {
		a.Recovery[rec.ID] = account.HashedRecovery{
			ID:          rec.ID,
			Hashed:      rec.TokenHash,
			UserID:      rec.AccountID,
			GeneratedAt: rec.GeneratedAt,
		}
	}
	return a
}

// fromAccount flattens a for writing. A staged PendingPassword replaces Password.
func fromAccount(a account.Account) accountRow {
	r := accountRow{
		ID:           a.ID,
		Username:     a.Username,
		PasswordHash: a.Password,
		Email:        a.Email,
	}
	if a.PendingPassword != "" {
		r.PasswordHash = a.PendingPassword
	}
	if pe := a.PendingEmail; pe != nil {
		addr, at := pe.Address, pe.IssuedAt
		r.PendingEmail = &addr
		r.PendingEmailToken = uuid.NullUUID{UUID: pe.Token, Valid: true}
		r.PendingEmailIssuedAt = &at
	}
	return r
}

// recoveryRows flattens the record set. Clear records get generatedAt as
// their generation time; Hashed records keep theirs.
func recoveryRows(a account.Account, accountID int64, generatedAt time.Time) []recoveryRow {
	rows := make([]recoveryRow, 0, len(a.Recovery))
	for _, rec := range a.Recovery {
		row := recoveryRow{
			ID:          rec.RecoveryID(),
			AccountID:   accountID,
			TokenHash:   rec.HashedToken(),
			GeneratedAt: generatedAt,
		}
		if h, ok := rec.(account.HashedRecovery); ok {
			row.GeneratedAt = h.GeneratedAt
		}
		rows = append(rows, row)
	}
	return rows
}
