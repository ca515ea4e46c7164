package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"account-api/internal/account"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	accessTokenType = "access"
)

var ErrInvalidAccessToken = errors.New("invalid access token")

// TokenConfig is built once at startup and never changed afterwards.
type TokenConfig struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

type Claims struct {
	jwt.RegisteredClaims
	AccountID int64  `json:"id"`
	Type      string `json:"typ"`
}

type Issuer struct {
	cfg TokenConfig
}

func NewIssuer(cfg TokenConfig) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("token signing secret is empty")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Issuer{cfg: cfg}, nil
}

func (i *Issuer) Now() time.Time {
	return i.cfg.Now()
}

func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.cfg.RefreshTTL
}

func (i *Issuer) IssueAccessToken(a *account.Account) (string, error) {
	now := i.cfg.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.AccessTTL)),
		},
		AccountID: a.ID,
		Type:      accessTokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(i.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return encoded, nil
}

func (i *Issuer) IssueRefreshToken() (*account.RefreshToken, error) {
	value, err := account.RandomToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := i.cfg.Now()
	return account.NewRefreshToken(value, now, now.Add(i.cfg.RefreshTTL)), nil
}

// ParseAccessToken verifies signature and expiry with no clock skew allowance
// and returns the account id carried by the token.
func (i *Issuer) ParseAccessToken(tokenStr string) (int64, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.cfg.Now),
	)
	if err != nil || !token.Valid {
		return 0, ErrInvalidAccessToken
	}
	if claims.Type != accessTokenType || claims.AccountID <= 0 {
		return 0, ErrInvalidAccessToken
	}
	return claims.AccountID, nil
}
