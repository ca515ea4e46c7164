package account

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/getsentry/sentry-go"
)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 6
)

// Response is the public view of an account. It never carries the password
// hash or any token.
type Response struct {
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Created    time.Time  `json:"created"`
	Updated    *time.Time `json:"updated,omitempty"`
	IsVerified bool       `json:"is_verified"`
}

func NewResponse(a *Account) Response {
	return Response{
		ID:         a.ID,
		Title:      a.Title,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Email:      a.Email,
		Role:       a.Role,
		Created:    a.CreatedAt,
		Updated:    a.UpdatedAt,
		IsVerified: a.IsVerified(),
	}
}

type Handler struct {
	service  *Service
	verifier *emailverifier.Verifier
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service, verifier: newEmailVerifier()}
}

// newEmailVerifier only checks syntax. No network lookups are made.
func newEmailVerifier() *emailverifier.Verifier {
	verifier := emailverifier.NewVerifier()

	verifier.DisableSMTPCheck()
	verifier.DisableGravatarCheck()
	verifier.DisableDomainSuggest()
	verifier.DisableAutoUpdateDisposable()

	return verifier
}

type registerRequest struct {
	Title           string `json:"title"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	AcceptTerms     bool   `json:"accept_terms"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token           string `json:"token"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type createRequest struct {
	Title           string `json:"title"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Role            Role   `json:"role"`
}

type updateRequest struct {
	Title           string `json:"title"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Role            Role   `json:"role"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	switch {
	case strings.TrimSpace(body.Title) == "" || strings.TrimSpace(body.FirstName) == "" || strings.TrimSpace(body.LastName) == "":
		writeError(w, http.StatusBadRequest, "title, first name and last name are required")
		return
	case !h.validEmail(body.Email):
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	case !validPassword(body.Password, body.ConfirmPassword):
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters and match its confirmation")
		return
	case !body.AcceptTerms:
		writeError(w, http.StatusBadRequest, "terms must be accepted")
		return
	}

	err := h.service.Register(r.Context(), RegisterInput{
		Title:     strings.TrimSpace(body.Title),
		FirstName: strings.TrimSpace(body.FirstName),
		LastName:  strings.TrimSpace(body.LastName),
		Email:     body.Email,
		Password:  body.Password,
	}, r.Header.Get("Origin"))
	if err != nil {
		writeServiceError(w, err, "failed to register")
		return
	}

	writeMessage(w, "registration successful, please check your email for verification instructions")
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.VerifyEmail(r.Context(), strings.TrimSpace(body.Token)); err != nil {
		writeServiceError(w, err, "failed to verify email")
		return
	}

	writeMessage(w, "verification successful, you can now login")
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if !h.validEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	if err := h.service.ForgotPassword(r.Context(), body.Email, r.Header.Get("Origin")); err != nil {
		writeServiceError(w, err, "failed to request password reset")
		return
	}

	writeMessage(w, "please check your email for password reset instructions")
}

func (h *Handler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ValidateResetToken(r.Context(), strings.TrimSpace(body.Token)); err != nil {
		writeServiceError(w, err, "failed to validate token")
		return
	}

	writeMessage(w, "token is valid")
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if !validPassword(body.Password, body.ConfirmPassword) {
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters and match its confirmation")
		return
	}

	if err := h.service.ResetPassword(r.Context(), strings.TrimSpace(body.Token), body.Password); err != nil {
		writeServiceError(w, err, "failed to reset password")
		return
	}

	writeMessage(w, "password reset successful, you can now login")
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "failed to list accounts")
		return
	}

	out := make([]Response, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, NewResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedTarget(w, r)
	if !ok {
		return
	}

	a, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, NewResponse(a))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	switch {
	case strings.TrimSpace(body.Title) == "" || strings.TrimSpace(body.FirstName) == "" || strings.TrimSpace(body.LastName) == "":
		writeError(w, http.StatusBadRequest, "title, first name and last name are required")
		return
	case !h.validEmail(body.Email):
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	case !validPassword(body.Password, body.ConfirmPassword):
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters and match its confirmation")
		return
	case !body.Role.Valid():
		writeError(w, http.StatusBadRequest, "role is invalid")
		return
	}

	a, err := h.service.Create(r.Context(), CreateInput{
		Title:     strings.TrimSpace(body.Title),
		FirstName: strings.TrimSpace(body.FirstName),
		LastName:  strings.TrimSpace(body.LastName),
		Email:     body.Email,
		Password:  body.Password,
		Role:      body.Role,
	})
	if err != nil {
		writeServiceError(w, err, "failed to create account")
		return
	}

	writeJSON(w, http.StatusOK, NewResponse(a))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedTarget(w, r)
	if !ok {
		return
	}

	var body updateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	switch {
	case body.Email != "" && !h.validEmail(body.Email):
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	case body.Password != "" && !validPassword(body.Password, body.ConfirmPassword):
		writeError(w, http.StatusBadRequest, "password must be at least 6 characters and match its confirmation")
		return
	case body.Role != "" && !body.Role.Valid():
		writeError(w, http.StatusBadRequest, "role is invalid")
		return
	}

	actor, _ := ActorFromContext(r.Context())
	if !CanAccess(actor, 0, RoleAdmin) {
		body.Role = ""
	}

	a, err := h.service.Update(r.Context(), id, UpdateInput{
		Title:     strings.TrimSpace(body.Title),
		FirstName: strings.TrimSpace(body.FirstName),
		LastName:  strings.TrimSpace(body.LastName),
		Email:     body.Email,
		Password:  body.Password,
		Role:      body.Role,
	})
	if err != nil {
		writeServiceError(w, err, "failed to update account")
		return
	}

	writeJSON(w, http.StatusOK, NewResponse(a))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizedTarget(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err, "failed to delete account")
		return
	}

	writeMessage(w, "account deleted successfully")
}

// authorizedTarget parses the {id} path value and checks that the actor is
// that account or an admin.
func (h *Handler) authorizedTarget(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}

	actor, _ := ActorFromContext(r.Context())
	if !CanAccess(actor, id, "") {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	return id, true
}

func (h *Handler) validEmail(email string) bool {
	if email == "" {
		return false
	}
	return h.verifier.ParseAddress(email).Valid
}

func validPassword(password, confirm string) bool {
	return len(password) >= minPasswordLength && password == confirm
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	status := StatusCode(err)
	if status == http.StatusInternalServerError {
		sentry.CaptureException(err)
		writeError(w, status, fallback)
		return
	}
	writeError(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
