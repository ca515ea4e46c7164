package account

import (
	"time"

	"github.com/samber/lo"
)

type Role string

const (
	RoleUser  Role = "User"
	RoleAdmin Role = "Admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Account owns its refresh token chain. Empty token strings are stored as NULL.
type Account struct {
	ID                int64
	Email             string
	PasswordHash      string
	Title             string
	FirstName         string
	LastName          string
	Role              Role
	CreatedAt         time.Time
	UpdatedAt         *time.Time
	VerifiedAt        *time.Time
	VerificationToken string
	ResetToken        string
	ResetTokenExpires *time.Time
	PasswordResetAt   *time.Time
	RefreshTokens     []*RefreshToken
}

func (a *Account) IsVerified() bool {
	return a.VerifiedAt != nil
}

// FindRefreshToken looks a raw token up in the chain by its hash.
func (a *Account) FindRefreshToken(token string) (*RefreshToken, bool) {
	return a.refreshTokenByHash(HashToken(token))
}

func (a *Account) refreshTokenByHash(hash string) (*RefreshToken, bool) {
	return lo.Find(a.RefreshTokens, func(t *RefreshToken) bool {
		return t.TokenHash == hash
	})
}

func (a *Account) OwnsToken(token string) bool {
	_, ok := a.FindRefreshToken(token)
	return ok
}

func (a *Account) AppendRefreshToken(token *RefreshToken) {
	a.RefreshTokens = append(a.RefreshTokens, token)
}

func (a *Account) ActiveRefreshTokens(now time.Time) []*RefreshToken {
	return lo.Filter(a.RefreshTokens, func(t *RefreshToken, _ int) bool {
		return t.IsActive(now)
	})
}

// RefreshToken is one link of an account's chain. Token holds the raw value
// only right after issuing; stores persist TokenHash and never return Token.
type RefreshToken struct {
	ID        int64
	Token     string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
	// ReplacedByToken is the hash of the successor token.
	ReplacedByToken string

	// set by Revoke, cleared once persisted
	dirty bool
}

func NewRefreshToken(raw string, created, expires time.Time) *RefreshToken {
	return &RefreshToken{
		Token:     raw,
		TokenHash: HashToken(raw),
		CreatedAt: created,
		ExpiresAt: expires,
	}
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsRevoked()
}

// Revoke marks the token unusable. replacedBy is the successor's hash, empty
// for an explicit revoke.
func (t *RefreshToken) Revoke(now time.Time, replacedBy string) {
	revoked := now
	t.RevokedAt = &revoked
	t.ReplacedByToken = replacedBy
	t.dirty = true
}

func (a *Account) clone() *Account {
	c := *a
	c.UpdatedAt = cloneTime(a.UpdatedAt)
	c.VerifiedAt = cloneTime(a.VerifiedAt)
	c.ResetTokenExpires = cloneTime(a.ResetTokenExpires)
	c.PasswordResetAt = cloneTime(a.PasswordResetAt)
	c.RefreshTokens = lo.Map(a.RefreshTokens, func(t *RefreshToken, _ int) *RefreshToken {
		tc := *t
		tc.RevokedAt = cloneTime(t.RevokedAt)
		return &tc
	})
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
