// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and account queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation of input).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the account store backed by Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a connection pool, pings it and returns a
// ready-to-use store. Safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectAccount = `
	SELECT id, username, password_hash, email,
	       pending_email, pending_email_token, pending_email_issued_at
	FROM accounts`

// FindByID returns the account with id, or nil if none exists.
func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	return findOne(ctx, s.pool, selectAccount+" WHERE id = $1", id)
}

// FindByUsername matches case-insensitively.
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*account.Account, error) {
	return findOne(ctx, s.pool, selectAccount+" WHERE lower(username) = lower($1)", username)
}

// FindByEmail matches the verified email case-insensitively. Pending
// addresses are not considered.
func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return findOne(ctx, s.pool, selectAccount+" WHERE lower(email) = lower($1)", email)
}

// FindByEmailVerificationToken returns the account whose pending email
// carries tok, or nil.
func (s *PostgresStore) FindByEmailVerificationToken(ctx context.Context, tok uuid.UUID) (*account.Account, error) {
	return findOne(ctx, s.pool, selectAccount+" WHERE pending_email_token = $1", tok)
}

// FindByRecoveryID returns the account owning recovery record id, or nil.
// Expired records still resolve; expiry is decided by the account.
func (s *PostgresStore) FindByRecoveryID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return findOne(ctx, s.pool,
		selectAccount+" WHERE id = (SELECT account_id FROM recovery_records WHERE id = $1)", id)
}

// findOne runs an account query expected to match at most one row and loads
// its recovery records. No row returns (nil, nil).
func findOne(ctx context.Context, q querier, query string, arg any) (*account.Account, error) {
	var r accountRow
	err := q.QueryRow(ctx, query, arg).Scan(
		&r.ID, &r.Username, &r.PasswordHash, &r.Email,
		&r.PendingEmail, &r.PendingEmailToken, &r.PendingEmailIssuedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}

	rows, err := q.Query(ctx,
		"SELECT id, account_id, token_hash, generated_at FROM recovery_records WHERE account_id = $1",
		r.ID)
	if err != nil {
		return nil, fmt.Errorf("loading recovery records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (recoveryRow, error) {
		var rec recoveryRow
		err := row.Scan(&rec.ID, &rec.AccountID, &rec.TokenHash, &rec.GeneratedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning recovery records: %w", err)
	}

	a := r.toAccount(recs)
	return &a, nil
}

// Save writes a in one transaction and returns the stored state.
//
// An account with ID zero is inserted and gets its id here. A staged
// PendingPassword becomes the password. Clear recovery records are stored
// hashed with the current time as generation time. Unique violations map to
// ErrUsernameTaken / ErrEmailTaken.
//
// Save does not read before writing. Changes derived from a loaded account
// go through Update.
func (s *PostgresStore) Save(ctx context.Context, a account.Account) (account.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return account.Account{}, fmt.Errorf("beginning save: %w", err)
	}
	// No-op after Commit.
	defer tx.Rollback(ctx)

	saved, err := s.write(ctx, tx, a)
	if err != nil {
		return account.Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return account.Account{}, fmt.Errorf("committing save: %w", err)
	}
	return saved, nil
}

// Update loads account id with its row locked, applies fn and writes the
// result, all in one transaction. Concurrent updates of the same account
// run one after another, each seeing the previous one's result.
//
// An error from fn rolls back and is returned unchanged. A missing account
// is ErrAccountNotFound.
func (s *PostgresStore) Update(ctx context.Context, id int64, fn func(account.Account) (account.Account, error)) (account.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return account.Account{}, fmt.Errorf("beginning update: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := findOne(ctx, tx, selectAccount+" WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return account.Account{}, err
	}
	if cur == nil {
		return account.Account{}, ErrAccountNotFound
	}

	next, err := fn(*cur)
	if err != nil {
		return account.Account{}, err
	}
	next.ID = id

	saved, err := s.write(ctx, tx, next)
	if err != nil {
		return account.Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return account.Account{}, fmt.Errorf("committing update: %w", err)
	}
	return saved, nil
}

// write inserts or updates a inside tx and returns the reloaded row.
func (s *PostgresStore) write(ctx context.Context, tx pgx.Tx, a account.Account) (account.Account, error) {
	row := fromAccount(a)
	id := row.ID
	if id == 0 {
		err := tx.QueryRow(ctx, `
			INSERT INTO accounts (username, password_hash, email,
			                      pending_email, pending_email_token, pending_email_issued_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			row.Username, row.PasswordHash, row.Email,
			row.PendingEmail, row.PendingEmailToken, row.PendingEmailIssuedAt,
		).Scan(&id)
		if err != nil {
			return account.Account{}, mapWriteError("inserting account", err)
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET password_hash = $2, email = $3,
			    pending_email = $4, pending_email_token = $5, pending_email_issued_at = $6,
			    updated_at = now()
			WHERE id = $1`,
			id, row.PasswordHash, row.Email,
			row.PendingEmail, row.PendingEmailToken, row.PendingEmailIssuedAt,
		)
		if err != nil {
			return account.Account{}, mapWriteError("updating account", err)
		}
		if tag.RowsAffected() == 0 {
			return account.Account{}, ErrAccountNotFound
		}
	}

	if err := writeRecovery(ctx, tx, id, recoveryRows(a, id, s.now())); err != nil {
		return account.Account{}, err
	}

	saved, err := findOne(ctx, tx, selectAccount+" WHERE id = $1", id)
	if err != nil {
		return account.Account{}, err
	}
	if saved == nil {
		return account.Account{}, ErrAccountNotFound
	}
	return *saved, nil
}

// writeRecovery brings the stored recovery set of account id in line with
// recs: ids no longer present are deleted, new ids inserted, existing rows
// left as they are.
func writeRecovery(ctx context.Context, tx pgx.Tx, id int64, recs []recoveryRow) error {
	// Non-nil so an empty set encodes as '{}' and clears every row.
	keep := make([]string, 0, len(recs))
	for _, rec := range recs {
		keep = append(keep, rec.ID.String())
	}
	_, err := tx.Exec(ctx,
		"DELETE FROM recovery_records WHERE account_id = $1 AND id::text <> ALL($2::text[])",
		id, keep)
	if err != nil {
		return fmt.Errorf("deleting recovery records: %w", err)
	}

	for _, rec := range recs {
		_, err := tx.Exec(ctx, `
			INSERT INTO recovery_records (id, account_id, token_hash, generated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, rec.AccountID, rec.TokenHash, rec.GeneratedAt)
		if err != nil {
			return fmt.Errorf("inserting recovery record: %w", err)
		}
	}
	return nil
}

// mapWriteError converts unique violations to store errors; anything else is wrapped.
func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "accounts_username_key":
			return ErrUsernameTaken
		case "accounts_email_key":
			return ErrEmailTaken
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
