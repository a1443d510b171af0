// stores.go
//
// Shared mock implementation of auth.Store.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MGallo-Code/linkvault/internal/account"
	"github.com/MGallo-Code/linkvault/internal/store"
	"github.com/gofrs/uuid/v5"
)

// MockStore implements auth.Store for tests.
// Always stateful...Accounts is a map keyed by id, like a real table.
// Save follows PostgresStore: it assigns ids, commits PendingPassword and
// persists clear recovery records as hashed ones stamped with Now. Update
// runs one at a time, like the row lock PostgresStore takes.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	FindErr   error
	SaveErr   error
	HealthErr error

	// Now stamps recovery records on save. Defaults to time.Now.
	Now func() time.Time

	// AfterFind, if set, runs after every Find* lookup returns its result.
	// Tests use it to hold requests between load and update.
	AfterFind func()

	Accounts map[int64]account.Account
	Saves    int

	nextID int64
	mu     sync.Mutex
	txMu   sync.Mutex
}

// NewMockStore returns a MockStore seeded with the given accounts.
// Seeded accounts without an id get the next free one.
func NewMockStore(accounts ...account.Account) *MockStore {
	ms := &MockStore{Accounts: make(map[int64]account.Account)}
	for _, a := range accounts {
		if a.ID == 0 {
			ms.nextID++
			a.ID = ms.nextID
		} else if a.ID > ms.nextID {
			ms.nextID = a.ID
		}
		ms.Accounts[a.ID] = copyAccount(a)
	}
	return ms
}

// Get returns a copy of the stored account with id, for assertions.
func (m *MockStore) Get(id int64) (account.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	return copyAccount(a), ok
}

func (m *MockStore) FindByID(_ context.Context, id int64) (*account.Account, error) {
	return m.find(func(a account.Account) bool { return a.ID == id })
}

func (m *MockStore) FindByUsername(_ context.Context, username string) (*account.Account, error) {
	return m.find(func(a account.Account) bool { return strings.EqualFold(a.Username, username) })
}

func (m *MockStore) FindByEmail(_ context.Context, email string) (*account.Account, error) {
	return m.find(func(a account.Account) bool { return a.Email != nil && strings.EqualFold(*a.Email, email) })
}

func (m *MockStore) FindByEmailVerificationToken(_ context.Context, tok uuid.UUID) (*account.Account, error) {
	return m.find(func(a account.Account) bool { return a.PendingEmail != nil && a.PendingEmail.Token == tok })
}

func (m *MockStore) FindByRecoveryID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	return m.find(func(a account.Account) bool {
		_, ok := a.Recovery[id]
		return ok
	})
}

// find returns nil, nil when nothing matches.
func (m *MockStore) find(match func(account.Account) bool) (*account.Account, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	found := m.lookup(match)
	if m.AfterFind != nil {
		m.AfterFind()
	}
	return found, nil
}

func (m *MockStore) lookup(match func(account.Account) bool) *account.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Accounts {
		if match(a) {
			found := copyAccount(a)
			return &found
		}
	}
	return nil
}

// Update applies fn to the stored account id and saves the result. Updates
// are serialized; an error from fn leaves the account untouched.
func (m *MockStore) Update(ctx context.Context, id int64, fn func(account.Account) (account.Account, error)) (account.Account, error) {
	if m.FindErr != nil {
		return account.Account{}, m.FindErr
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	cur := m.lookup(func(a account.Account) bool { return a.ID == id })
	if cur == nil {
		return account.Account{}, store.ErrAccountNotFound
	}
	next, err := fn(*cur)
	if err != nil {
		return account.Account{}, err
	}
	next.ID = id
	return m.Save(ctx, next)
}

func (m *MockStore) Save(_ context.Context, a account.Account) (account.Account, error) {
	if m.SaveErr != nil {
		return account.Account{}, m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Accounts == nil {
		m.Accounts = make(map[int64]account.Account)
	}

	if a.ID != 0 {
		if _, ok := m.Accounts[a.ID]; !ok {
			return account.Account{}, store.ErrAccountNotFound
		}
	}
	for id, other := range m.Accounts {
		if id == a.ID {
			continue
		}
		if strings.EqualFold(other.Username, a.Username) {
			return account.Account{}, store.ErrUsernameTaken
		}
		if a.Email != nil && other.Email != nil && strings.EqualFold(*a.Email, *other.Email) {
			return account.Account{}, store.ErrEmailTaken
		}
	}

	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
	}
	saved := copyAccount(a)
	if saved.PendingPassword != "" {
		saved.Password = saved.PendingPassword
		saved.PendingPassword = ""
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	for id, rec := range saved.Recovery {
		if cr, ok := rec.(account.ClearRecovery); ok {
			hashed := cr.Persisted(now())
			hashed.UserID = a.ID
			saved.Recovery[id] = hashed
		}
	}

	m.Accounts[a.ID] = saved
	m.Saves++
	return copyAccount(saved), nil
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	return m.HealthErr
}

func copyAccount(a account.Account) account.Account {
	b := a
	if a.Email != nil {
		email := *a.Email
		b.Email = &email
	}
	if a.PendingEmail != nil {
		pe := *a.PendingEmail
		b.PendingEmail = &pe
	}
	b.Recovery = make(map[uuid.UUID]account.RecoveryRecord, len(a.Recovery))
	for id, r := range a.Recovery {
		b.Recovery[id] = r
	}
	return b
}
