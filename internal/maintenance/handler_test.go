package maintenance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-api/internal/account"
	"account-api/internal/observability"
)

type stubCleaner struct {
	cleared int64
	err     error
	gotNow  time.Time
}

func (s *stubCleaner) ClearExpiredResetTokens(_ context.Context, now time.Time) (int64, error) {
	s.gotNow = now
	return s.cleared, s.err
}

func newRequest(method, auth string) *http.Request {
	req := httptest.NewRequest(method, "/internal/maintenance/cleanup", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

func TestCleanupDisabledWithoutSecret(t *testing.T) {
	h := NewCleanupHandler(&stubCleaner{}, observability.NewNopLogger(), "")

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "Bearer anything"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupRejectsWrongSecret(t *testing.T) {
	h := NewCleanupHandler(&stubCleaner{}, observability.NewNopLogger(), "cron")

	for _, auth := range []string{"", "Bearer wrong", "Basic cron", "cron"} {
		rec := httptest.NewRecorder()
		h.Handle(rec, newRequest(http.MethodPost, auth))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "auth %q", auth)
	}
}

func TestCleanupRejectsMethod(t *testing.T) {
	h := NewCleanupHandler(&stubCleaner{}, observability.NewNopLogger(), "cron")

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodDelete, "Bearer cron"))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCleanupSuccess(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := &stubCleaner{cleared: 3}
	h := NewCleanupHandler(store, observability.NewNopLogger(), "cron")
	h.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodGet, "Bearer cron"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","result":{"cleared_reset_tokens":3}}`, rec.Body.String())
	assert.Equal(t, now, store.gotNow)
}

func TestCleanupStoreError(t *testing.T) {
	h := NewCleanupHandler(&stubCleaner{err: errors.New("db down")}, observability.NewNopLogger(), "cron")

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "Bearer cron"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCleanupClearsExpiredResetTokensInMemory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := account.NewMemoryStore()

	expired := now.Add(-time.Minute)
	live := now.Add(time.Hour)
	require.NoError(t, store.Create(ctx, &account.Account{
		Email: "old@example.com", Role: account.RoleUser, CreatedAt: now,
		ResetToken: "old-token", ResetTokenExpires: &expired,
	}))
	require.NoError(t, store.Create(ctx, &account.Account{
		Email: "new@example.com", Role: account.RoleUser, CreatedAt: now,
		ResetToken: "new-token", ResetTokenExpires: &live,
	}))

	h := NewCleanupHandler(store, observability.NewNopLogger(), "cron")
	h.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	h.Handle(rec, newRequest(http.MethodPost, "Bearer cron"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","result":{"cleared_reset_tokens":1}}`, rec.Body.String())

	old, err := store.FindByEmail(ctx, "old@example.com")
	require.NoError(t, err)
	assert.Empty(t, old.ResetToken)
	assert.Nil(t, old.ResetTokenExpires)

	_, err = store.FindByResetToken(ctx, "new-token", now)
	assert.NoError(t, err)
}
