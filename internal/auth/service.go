package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"account-api/internal/account"
	"account-api/internal/observability"
)

// Session is the result of a successful login or rotation.
type Session struct {
	Account      *account.Account
	AccessToken  string
	RefreshToken *account.RefreshToken
}

type Service struct {
	store  account.Store
	issuer *Issuer
	logger *observability.Logger
}

func NewService(store account.Store, issuer *Issuer, logger *observability.Logger) *Service {
	return &Service{store: store, issuer: issuer, logger: logger}
}

func (s *Service) Authenticate(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, account.ErrInvalidCredentials
	}

	a, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return Session{}, account.ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !a.IsVerified() || !account.CheckPassword(a.PasswordHash, password) {
		return Session{}, account.ErrInvalidCredentials
	}

	refresh, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return Session{}, err
	}
	a.AppendRefreshToken(refresh)
	if err := s.store.SaveRefreshTokens(ctx, a.ID, []*account.RefreshToken{refresh}); err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return Session{}, account.ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("save refresh token: %w", err)
	}

	access, err := s.issuer.IssueAccessToken(a)
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("account_authenticated", map[string]any{"account_id": a.ID})
	return Session{Account: a, AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh rotates the presented refresh token: it is revoked, linked to its
// replacement, and the replacement is appended to the chain. Unknown, expired,
// revoked and already rotated tokens all fail with ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, token string) (Session, error) {
	a, current, err := s.activeToken(ctx, token)
	if err != nil {
		return Session{}, err
	}

	replacement, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return Session{}, err
	}
	current.Revoke(s.issuer.Now(), replacement.TokenHash)
	a.AppendRefreshToken(replacement)

	if err := s.store.SaveRefreshTokens(ctx, a.ID, []*account.RefreshToken{current, replacement}); err != nil {
		if errors.Is(err, account.ErrConcurrentUpdate) || errors.Is(err, account.ErrAccountNotFound) {
			return Session{}, account.ErrInvalidToken
		}
		return Session{}, fmt.Errorf("save rotated refresh token: %w", err)
	}

	access, err := s.issuer.IssueAccessToken(a)
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("refresh_token_rotated", map[string]any{"account_id": a.ID})
	return Session{Account: a, AccessToken: access, RefreshToken: replacement}, nil
}

// Revoke ends the presented refresh token without issuing a replacement.
// Whether the caller may revoke it is checked by the caller.
func (s *Service) Revoke(ctx context.Context, token string) error {
	a, current, err := s.activeToken(ctx, token)
	if err != nil {
		return err
	}

	current.Revoke(s.issuer.Now(), "")
	if err := s.store.SaveRefreshTokens(ctx, a.ID, []*account.RefreshToken{current}); err != nil {
		if errors.Is(err, account.ErrConcurrentUpdate) || errors.Is(err, account.ErrAccountNotFound) {
			return account.ErrInvalidToken
		}
		return fmt.Errorf("save revoked refresh token: %w", err)
	}

	s.logger.Info("refresh_token_revoked", map[string]any{"account_id": a.ID})
	return nil
}

func (s *Service) activeToken(ctx context.Context, token string) (*account.Account, *account.RefreshToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, account.ErrInvalidToken
	}

	a, err := s.store.FindByRefreshToken(ctx, token)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			return nil, nil, account.ErrInvalidToken
		}
		return nil, nil, err
	}

	current, ok := a.FindRefreshToken(token)
	if !ok {
		return nil, nil, account.ErrInvalidToken
	}
	if current.ReplacedByToken != "" {
		s.logger.Warn("refresh_token_replayed", map[string]any{"account_id": a.ID})
	}
	if !current.IsActive(s.issuer.Now()) {
		return nil, nil, account.ErrInvalidToken
	}
	return a, current, nil
}
