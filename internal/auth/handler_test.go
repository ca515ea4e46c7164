package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-api/internal/account"
)

func postJSON(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func refreshCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshTokenCookieName {
			return c
		}
	}
	t.Fatal("refresh token cookie not set")
	return nil
}

func TestHandlerAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	a := env.seed(t, "ada@example.com", true, account.RoleUser)
	h := NewHandler(env.service)

	rec := httptest.NewRecorder()
	h.Authenticate(rec, postJSON("/accounts/authenticate", `{"email":"ada@example.com","password":"secret1"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeSession(t, rec)
	assert.Equal(t, float64(a.ID), body["id"])
	assert.Equal(t, "ada@example.com", body["email"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, float64(900), body["expires_in"])
	assert.NotEmpty(t, body["jwt_token"])
	assert.NotContains(t, body, "password_hash")

	cookie := refreshCookie(t, rec)
	assert.Equal(t, body["refresh_token"], cookie.Value)
	assert.True(t, cookie.HttpOnly)
}

func TestHandlerAuthenticateInvalid(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "ada@example.com", true, account.RoleUser)
	h := NewHandler(env.service)

	rec := httptest.NewRecorder()
	h.Authenticate(rec, postJSON("/accounts/authenticate", `{"email":"ada@example.com","password":"wrong12"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "email or password is incorrect", decodeSession(t, rec)["error"])

	rec = httptest.NewRecorder()
	h.Authenticate(rec, postJSON("/accounts/authenticate", `{"email":""}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Authenticate(rec, postJSON("/accounts/authenticate", `not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRefreshFromCookieAndBody(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "ada@example.com", true, account.RoleUser)
	h := NewHandler(env.service)

	rec := httptest.NewRecorder()
	h.Authenticate(rec, postJSON("/accounts/authenticate", `{"email":"ada@example.com","password":"secret1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	first := refreshCookie(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/accounts/refresh-token", nil)
	req.AddCookie(first)
	rec = httptest.NewRecorder()
	h.Refresh(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	second := refreshCookie(t, rec)
	assert.NotEqual(t, first.Value, second.Value)

	rec = httptest.NewRecorder()
	h.Refresh(rec, postJSON("/accounts/refresh-token", `{"refresh_token":"`+second.Value+`"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/accounts/refresh-token", nil)
	req.AddCookie(first)
	rec = httptest.NewRecorder()
	h.Refresh(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid token", decodeSession(t, rec)["error"])
}

func TestHandlerRefreshWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.service)

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest(http.MethodPost, "/accounts/refresh-token", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.seed(t, "ada@example.com", true, account.RoleUser)
	other := env.seed(t, "grace@example.com", true, account.RoleUser)
	admin := env.seed(t, "admin@example.com", true, account.RoleAdmin)
	h := NewHandler(env.service)

	session, err := env.service.Authenticate(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	token := session.RefreshToken.Token

	revoke := func(actor *account.Account, body string) *httptest.ResponseRecorder {
		req := postJSON("/accounts/revoke-token", body)
		if actor != nil {
			req = req.WithContext(account.WithActor(req.Context(), actor))
		}
		rec := httptest.NewRecorder()
		h.Revoke(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, revoke(admin, `{}`).Code)
	assert.Equal(t, http.StatusUnauthorized, revoke(nil, `{"token":"`+token+`"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, revoke(other, `{"token":"`+token+`"}`).Code)

	// the handler checks ownership against the actor loaded by the middleware
	loadedOwner, err := env.store.FindByID(ctx, owner.ID)
	require.NoError(t, err)
	rec := revoke(loadedOwner, `{"token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "token revoked", decodeSession(t, rec)["message"])

	assert.Equal(t, http.StatusBadRequest, revoke(admin, `{"token":"`+token+`"}`).Code)
}

func TestHandlerRevokeByAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seed(t, "ada@example.com", true, account.RoleUser)
	admin := env.seed(t, "admin@example.com", true, account.RoleAdmin)
	h := NewHandler(env.service)

	session, err := env.service.Authenticate(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/accounts/revoke-token", nil)
	req.AddCookie(&http.Cookie{Name: refreshTokenCookieName, Value: session.RefreshToken.Token})
	req = req.WithContext(account.WithActor(req.Context(), admin))
	rec := httptest.NewRecorder()
	h.Revoke(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
