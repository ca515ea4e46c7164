package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. It serves local development
// without a database and the service tests. Accounts are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	nextTok  int64
	accounts map[int64]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[int64]*Account)}
}

func (m *MemoryStore) List(_ context.Context) ([]*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		c := a.clone()
		c.RefreshTokens = nil
		accounts = append(accounts, c)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id int64) (*Account, error) {
	return m.find(func(a *Account) bool { return a.ID == id })
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	return m.find(func(a *Account) bool { return a.Email == email })
}

func (m *MemoryStore) FindByVerificationToken(_ context.Context, token string) (*Account, error) {
	return m.find(func(a *Account) bool {
		return token != "" && a.VerificationToken == token
	})
}

func (m *MemoryStore) FindByResetToken(_ context.Context, token string, now time.Time) (*Account, error) {
	return m.find(func(a *Account) bool {
		return token != "" && a.ResetToken == token && a.ResetTokenExpires != nil && a.ResetTokenExpires.After(now)
	})
}

func (m *MemoryStore) FindByRefreshToken(_ context.Context, token string) (*Account, error) {
	return m.find(func(a *Account) bool { return a.OwnsToken(token) })
}

func (m *MemoryStore) find(match func(*Account) bool) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if match(a) {
			return a.clone(), nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryStore) EmailExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.emailOwner(email) != 0, nil
}

func (m *MemoryStore) emailOwner(email string) int64 {
	for id, a := range m.accounts {
		if a.Email == email {
			return id
		}
	}
	return 0
}

func (m *MemoryStore) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emailOwner(a.Email) != 0 {
		return ErrEmailTaken
	}

	m.nextID++
	a.ID = m.nextID
	m.assignTokenIDs(a)
	saved := a.clone()
	for i, t := range saved.RefreshTokens {
		saved.RefreshTokens[i] = storedToken(t)
	}
	m.accounts[a.ID] = saved
	return nil
}

func (m *MemoryStore) Save(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[a.ID]
	if !ok {
		return ErrAccountNotFound
	}
	if owner := m.emailOwner(a.Email); owner != 0 && owner != a.ID {
		return ErrEmailTaken
	}

	saved := a.clone()
	saved.RefreshTokens = stored.RefreshTokens
	m.accounts[a.ID] = saved
	return nil
}

func (m *MemoryStore) SaveRefreshTokens(_ context.Context, accountID int64, tokens []*RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}

	for _, t := range tokens {
		if t.ID == 0 || !t.dirty {
			continue
		}
		current, ok := stored.refreshTokenByHash(t.TokenHash)
		if !ok || current.IsRevoked() {
			return ErrConcurrentUpdate
		}
	}

	for _, t := range tokens {
		switch {
		case t.ID == 0:
			m.nextTok++
			t.ID = m.nextTok
			stored.RefreshTokens = append(stored.RefreshTokens, storedToken(t))
		case t.dirty:
			current, _ := stored.refreshTokenByHash(t.TokenHash)
			current.RevokedAt = cloneTime(t.RevokedAt)
			current.ReplacedByToken = t.ReplacedByToken
		}
		t.dirty = false
	}
	return nil
}

// storedToken copies t without its raw value.
func storedToken(t *RefreshToken) *RefreshToken {
	c := *t
	c.Token = ""
	c.RevokedAt = cloneTime(t.RevokedAt)
	c.dirty = false
	return &c
}

func (m *MemoryStore) assignTokenIDs(a *Account) {
	for _, t := range a.RefreshTokens {
		if t.ID == 0 {
			m.nextTok++
			t.ID = m.nextTok
		}
		t.dirty = false
	}
}

func (m *MemoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	delete(m.accounts, id)
	return nil
}

func (m *MemoryStore) ClearExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared int64
	for _, a := range m.accounts {
		if a.ResetToken != "" && a.ResetTokenExpires != nil && !a.ResetTokenExpires.After(now) {
			a.ResetToken = ""
			a.ResetTokenExpires = nil
			cleared++
		}
	}
	return cleared, nil
}
