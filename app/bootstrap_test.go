package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"account-api/internal/account"
	"account-api/internal/config"
	"account-api/internal/observability"
)

var tokenPattern = regexp.MustCompile(`[0-9a-f]{80}`)

type outbox struct {
	mu   sync.Mutex
	sent []string
}

func (o *outbox) Send(_ context.Context, _, _, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, html)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	token := tokenPattern.FindString(o.sent[len(o.sent)-1])
	require.NotEmpty(t, token)
	return token
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:          "test",
		JWTSecret:       "test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		ResetTokenTTL:   24 * 24 * time.Hour,
		CronSecret:      "cron",
		AdminEmail:      "admin@example.com",
		AdminPassword:   "admin-secret",
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *outbox) {
	t.Helper()
	mails := &outbox{}
	runtime, err := build(testConfig(), dependencies{
		store:  account.NewMemoryStore(),
		sender: mails,
		logger: observability.NewNopLogger(),
	})
	require.NoError(t, err)

	server := httptest.NewServer(runtime.Handler)
	t.Cleanup(func() {
		server.Close()
		_ = runtime.Close()
	})
	return server, mails
}

type client struct {
	t      *testing.T
	server *httptest.Server
}

func (c client) do(method, path, body, bearer string, cookies ...*http.Cookie) (*http.Response, map[string]any) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.server.URL+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAccountLifecycle(t *testing.T) {
	server, mails := newTestServer(t)
	c := client{t: t, server: server}

	resp, _ := c.do(http.MethodPost, "/accounts/register", `{
		"title": "Ms", "first_name": "Ada", "last_name": "Lovelace", "email": "ada@example.com",
		"password": "secret1", "confirm_password": "secret1", "accept_terms": true
	}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verifyToken := mails.lastToken(t)

	resp, body := c.do(http.MethodPost, "/accounts/authenticate", `{"email":"ada@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "email or password is incorrect", body["error"])

	resp, _ = c.do(http.MethodPost, "/accounts/verify-email", `{"token":"`+verifyToken+`"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = c.do(http.MethodPost, "/accounts/authenticate", `{"email":"ada@example.com","password":"secret1"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accessToken, _ := body["jwt_token"].(string)
	require.NotEmpty(t, accessToken)
	id := strconv.FormatFloat(body["id"].(float64), 'f', 0, 64)
	firstCookie := cookieNamed(resp, "refreshToken")
	require.NotNil(t, firstCookie)

	resp, body = c.do(http.MethodGet, "/accounts/"+id, "", accessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ada@example.com", body["email"])

	resp, _ = c.do(http.MethodGet, "/accounts/"+id, "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/accounts", "", accessToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = c.do(http.MethodPost, "/accounts/refresh-token", "", "", firstCookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	secondToken, _ := body["refresh_token"].(string)
	assert.NotEqual(t, firstCookie.Value, secondToken)

	resp, body = c.do(http.MethodPost, "/accounts/refresh-token", "", "", firstCookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid token", body["error"])

	resp, _ = c.do(http.MethodPost, "/accounts/revoke-token", `{"token":"`+secondToken+`"}`, accessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodPost, "/accounts/refresh-token", `{"refresh_token":"`+secondToken+`"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPasswordResetFlow(t *testing.T) {
	server, mails := newTestServer(t)
	c := client{t: t, server: server}

	resp, _ := c.do(http.MethodPost, "/accounts/forgot-password", `{"email":"admin@example.com"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resetToken := mails.lastToken(t)

	resp, _ = c.do(http.MethodPost, "/accounts/validate-reset-token", `{"token":"`+resetToken+`"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodPost, "/accounts/reset-password",
		`{"token":"`+resetToken+`","password":"changed1","confirm_password":"changed1"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodPost, "/accounts/authenticate", `{"email":"admin@example.com","password":"admin-secret"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = c.do(http.MethodPost, "/accounts/authenticate", `{"email":"admin@example.com","password":"changed1"}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminRoutes(t *testing.T) {
	server, _ := newTestServer(t)
	c := client{t: t, server: server}

	resp, body := c.do(http.MethodPost, "/accounts/authenticate", `{"email":"admin@example.com","password":"admin-secret"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Admin", body["role"])
	adminToken, _ := body["jwt_token"].(string)

	resp, body = c.do(http.MethodPost, "/accounts", `{
		"title": "Dr", "first_name": "Grace", "last_name": "Hopper", "email": "grace@example.com",
		"password": "secret1", "confirm_password": "secret1", "role": "User"
	}`, adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	graceID := strconv.FormatFloat(body["id"].(float64), 'f', 0, 64)

	resp, _ = c.do(http.MethodPut, "/accounts/"+graceID, `{"role":"Admin"}`, adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodDelete, "/accounts/"+graceID, "", adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/accounts/"+graceID, "", adminToken)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMaintenance(t *testing.T) {
	server, _ := newTestServer(t)
	c := client{t: t, server: server}

	resp, body := c.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get(observability.RequestIDHeader))

	resp, _ = c.do(http.MethodPost, "/internal/maintenance/cleanup", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = c.do(http.MethodPost, "/internal/maintenance/cleanup", "", "cron")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestCorsPreflight(t *testing.T) {
	server, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/accounts/authenticate", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestBuildRejectsPartialAdmin(t *testing.T) {
	cfg := testConfig()
	cfg.AdminPassword = ""

	_, err := build(cfg, dependencies{
		store:  account.NewMemoryStore(),
		sender: &outbox{},
		logger: observability.NewNopLogger(),
	})
	assert.Error(t, err)
}

func setMinimalEnv(t *testing.T, appEnv string) {
	t.Helper()
	t.Setenv("APP_ENV", appEnv)
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("SMTP_HOST", "")
	t.Setenv("ADMIN_EMAIL", "")
	t.Setenv("ADMIN_PASSWORD", "")
}

func TestBuildMemoryStoreInDevelopment(t *testing.T) {
	setMinimalEnv(t, "development")

	runtime, err := Build(Options{})
	require.NoError(t, err)
	assert.NoError(t, runtime.Close())
}

func TestBuildRequiresDatabase(t *testing.T) {
	setMinimalEnv(t, "production")
	_, err := Build(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	setMinimalEnv(t, "development")
	_, err = Build(Options{RequireDatabase: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
