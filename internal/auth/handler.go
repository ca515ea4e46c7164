package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"account-api/internal/account"
)

const (
	maxJSONBodyBytes       = 1 << 20
	refreshTokenCookieName = "refreshToken"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type authenticateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	account.Response
	JWTToken     string `json:"jwt_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var body authenticateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if body.Email == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	session, err := h.service.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		h.writeServiceError(w, err, "failed to authenticate")
		return
	}

	h.writeSession(w, session)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	token := strings.TrimSpace(body.RefreshToken)
	if token == "" {
		token = cookieToken(r)
	}

	session, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err, "failed to refresh token")
		return
	}

	h.writeSession(w, session)
}

func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var body revokeRequest
	if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	token := strings.TrimSpace(body.Token)
	if token == "" {
		token = cookieToken(r)
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	actor, _ := account.ActorFromContext(r.Context())
	if actor == nil || (!actor.OwnsToken(token) && !account.CanAccess(actor, 0, account.RoleAdmin)) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.service.Revoke(r.Context(), token); err != nil {
		h.writeServiceError(w, err, "failed to revoke token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "token revoked"})
}

func (h *Handler) writeSession(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    session.RefreshToken.Token,
		Path:     "/",
		Expires:  session.RefreshToken.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, sessionResponse{
		Response:     account.NewResponse(session.Account),
		JWTToken:     session.AccessToken,
		RefreshToken: session.RefreshToken.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.service.issuer.AccessTTL().Seconds()),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	status := account.StatusCode(err)
	if status == http.StatusInternalServerError {
		sentry.CaptureException(err)
		writeError(w, status, fallback)
		return
	}
	writeError(w, status, err.Error())
}

func cookieToken(r *http.Request) string {
	cookie, err := r.Cookie(refreshTokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
