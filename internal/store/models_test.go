package store

import (
	"testing"
	"time"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Row mapping runs without a database.

func TestFromAccount(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := uuid.Must(uuid.NewV4())

	t.Run("pending password replaces password", func(t *testing.T) {
		r := fromAccount(account.Account{ID: 3, Username: "u", Password: "old", PendingPassword: "new"})
		assert.Equal(t, "new", r.PasswordHash)
		assert.Nil(t, r.PendingEmail)
		assert.False(t, r.PendingEmailToken.Valid)
		assert.Nil(t, r.PendingEmailIssuedAt)
	})

	t.Run("pending email flattened", func(t *testing.T) {
		r := fromAccount(account.Account{
			Password:     "old",
			PendingEmail: &account.PendingEmail{Address: "a@example.com", Token: tok, IssuedAt: issued},
		})
		assert.Equal(t, "old", r.PasswordHash)
		require.NotNil(t, r.PendingEmail)
		assert.Equal(t, "a@example.com", *r.PendingEmail)
		assert.Equal(t, uuid.NullUUID{UUID: tok, Valid: true}, r.PendingEmailToken)
		assert.Equal(t, issued, *r.PendingEmailIssuedAt)
	})
}

func TestToAccount(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	addr := "a@example.com"
	tok := uuid.Must(uuid.NewV4())
	recID := uuid.Must(uuid.NewV4())

	a := accountRow{
		ID:                   9,
		Username:             "u",
		PasswordHash:         "hash",
		PendingEmail:         &addr,
		PendingEmailToken:    uuid.NullUUID{UUID: tok, Valid: true},
		PendingEmailIssuedAt: &issued,
	}.toAccount([]recoveryRow{{ID: recID, AccountID: 9, TokenHash: "th", GeneratedAt: issued}})

	assert.Equal(t, int64(9), a.ID)
	assert.Empty(t, a.PendingPassword)
	require.NotNil(t, a.PendingEmail)
	assert.Equal(t, account.PendingEmail{Address: addr, Token: tok, IssuedAt: issued}, *a.PendingEmail)
	assert.Equal(t, account.HashedRecovery{ID: recID, Hashed: "th", UserID: 9, GeneratedAt: issued}, a.Recovery[recID])
}

func TestRecoveryRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Minute)
	clearID, hashedID := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	rows := recoveryRows(account.Account{Recovery: map[uuid.UUID]account.RecoveryRecord{
		clearID:  account.ClearRecovery{ID: clearID, Token: "tok", Hashed: "h1", UserID: 0},
		hashedID: account.HashedRecovery{ID: hashedID, Hashed: "h2", UserID: 5, GeneratedAt: earlier},
	}}, 5, now)

	require.Len(t, rows, 2)
	byID := map[uuid.UUID]recoveryRow{rows[0].ID: rows[0], rows[1].ID: rows[1]}
	assert.Equal(t, recoveryRow{ID: clearID, AccountID: 5, TokenHash: "h1", GeneratedAt: now}, byID[clearID])
	assert.Equal(t, recoveryRow{ID: hashedID, AccountID: 5, TokenHash: "h2", GeneratedAt: earlier}, byID[hashedID])
}
