package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"account-api/internal/mail"
	"account-api/internal/observability"
)

const defaultResetTokenTTL = 24 * 24 * time.Hour

type Mailer interface {
	TemplateSend(ctx context.Context, template string, vars mail.TemplateData, to string) error
}

type RegisterInput struct {
	Title     string
	FirstName string
	LastName  string
	Email     string
	Password  string
}

type CreateInput struct {
	Title     string
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      Role
}

type Service struct {
	store    Store
	mailer   Mailer
	logger   *observability.Logger
	resetTTL time.Duration
	now      func() time.Time
}

func NewService(store Store, mailer Mailer, logger *observability.Logger) *Service {
	return &Service{
		store:    store,
		mailer:   mailer,
		logger:   logger,
		resetTTL: defaultResetTokenTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithResetTokenTTL(ttl time.Duration) {
	if ttl > 0 {
		s.resetTTL = ttl
	}
}

func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates an unverified account and mails its verification token.
// An email that is already registered gets a notice instead and the call
// still succeeds, so the response does not reveal which emails exist.
func (s *Service) Register(ctx context.Context, input RegisterInput, origin string) error {
	exists, err := s.store.EmailExists(ctx, input.Email)
	if err != nil {
		return err
	}
	if exists {
		s.sendAlreadyRegistered(ctx, input.Email, origin)
		return nil
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return err
	}
	verificationToken, err := RandomToken()
	if err != nil {
		return err
	}

	a := &Account{
		Email:             input.Email,
		PasswordHash:      hash,
		Title:             input.Title,
		FirstName:         input.FirstName,
		LastName:          input.LastName,
		Role:              RoleUser,
		CreatedAt:         s.now(),
		VerificationToken: verificationToken,
	}
	if err := s.store.Create(ctx, a); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			s.sendAlreadyRegistered(ctx, input.Email, origin)
			return nil
		}
		return err
	}

	s.logger.Info("account_registered", map[string]any{"account_id": a.ID})
	s.send(ctx, mail.TplVerifyEmail, a.Email, mail.TemplateData{
		"Origin": strings.TrimSuffix(origin, "/"),
		"Token":  a.VerificationToken,
	})
	return nil
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return ErrVerificationFailed
	}

	a, err := s.store.FindByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrVerificationFailed
		}
		return err
	}

	now := s.now()
	a.VerifiedAt = &now
	a.VerificationToken = ""
	if err := s.store.Save(ctx, a); err != nil {
		return err
	}

	s.logger.Info("account_verified", map[string]any{"account_id": a.ID})
	return nil
}

// ForgotPassword issues a fresh reset token, superseding any earlier one.
// Unknown emails are ignored without an error.
func (s *Service) ForgotPassword(ctx context.Context, email, origin string) error {
	a, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}

	token, err := RandomToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(s.resetTTL)
	a.ResetToken = token
	a.ResetTokenExpires = &expires
	if err := s.store.Save(ctx, a); err != nil {
		return err
	}

	s.logger.Info("password_reset_requested", map[string]any{"account_id": a.ID})
	s.send(ctx, mail.TplPasswordReset, a.Email, mail.TemplateData{
		"Origin":    strings.TrimSuffix(origin, "/"),
		"Token":     token,
		"ExpiresAt": expires.Format(time.RFC1123),
	})
	return nil
}

func (s *Service) ValidateResetToken(ctx context.Context, token string) error {
	_, err := s.accountByResetToken(ctx, token)
	return err
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	a, err := s.accountByResetToken(ctx, token)
	if err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	now := s.now()
	a.PasswordHash = hash
	a.PasswordResetAt = &now
	a.ResetToken = ""
	a.ResetTokenExpires = nil
	if err := s.store.Save(ctx, a); err != nil {
		return err
	}

	s.logger.Info("password_reset", map[string]any{"account_id": a.ID})
	return nil
}

func (s *Service) accountByResetToken(ctx context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	a, err := s.store.FindByResetToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return a, nil
}

func (s *Service) List(ctx context.Context) ([]*Account, error) {
	return s.store.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (*Account, error) {
	return s.store.FindByID(ctx, id)
}

// Create adds an account on behalf of an admin. It is verified immediately.
func (s *Service) Create(ctx context.Context, input CreateInput) (*Account, error) {
	exists, err := s.store.EmailExists(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if !role.Valid() {
		role = RoleUser
	}

	now := s.now()
	a := &Account{
		Email:        input.Email,
		PasswordHash: hash,
		Title:        input.Title,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         role,
		CreatedAt:    now,
		VerifiedAt:   &now,
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("account_created", map[string]any{"account_id": a.ID, "role": string(a.Role)})
	return a, nil
}

// Update applies the non-empty fields of input. Role changes must already
// have been cleared by the caller when the actor is not an admin.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (*Account, error) {
	a, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Email != "" && input.Email != a.Email {
		taken, err := s.store.EmailExists(ctx, input.Email)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrEmailTaken
		}
	}

	if input.Password != "" {
		hash, err := HashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		a.PasswordHash = hash
	}

	input.applyTo(a)
	now := s.now()
	a.UpdatedAt = &now
	if err := s.store.Save(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("account_updated", map[string]any{"account_id": a.ID})
	return a, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("account_deleted", map[string]any{"account_id": id})
	return nil
}

// BootstrapAdmin makes sure an admin account with the given credentials
// exists. Both values empty is a no-op.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	a, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		_, err = s.Create(ctx, CreateInput{Email: email, Password: password, Role: RoleAdmin})
		return err
	}
	if err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	now := s.now()
	a.PasswordHash = hash
	a.Role = RoleAdmin
	a.UpdatedAt = &now
	if a.VerifiedAt == nil {
		a.VerifiedAt = &now
		a.VerificationToken = ""
	}
	return s.store.Save(ctx, a)
}

func (s *Service) sendAlreadyRegistered(ctx context.Context, email, origin string) {
	s.send(ctx, mail.TplAlreadyRegistered, email, mail.TemplateData{
		"Origin": strings.TrimSuffix(origin, "/"),
		"Email":  email,
	})
}

// send runs after the state change has been committed. Delivery failures are
// reported and otherwise ignored.
func (s *Service) send(ctx context.Context, template, to string, vars mail.TemplateData) {
	if err := s.mailer.TemplateSend(ctx, template, vars, to); err != nil {
		sentry.CaptureException(err)
		s.logger.Error("email_delivery_failed", map[string]any{
			"template": template,
			"error":    err.Error(),
		})
	}
}
