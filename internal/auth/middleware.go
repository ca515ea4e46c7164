package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"account-api/internal/account"
)

// Middleware verifies the bearer access token, loads the account it names
// and attaches it to the request context. Requests without a valid token or
// whose account no longer exists are rejected.
func Middleware(issuer *Issuer, store account.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "invalid authorization token")
			return
		}

		accountID, err := issuer.ParseAccessToken(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		actor, err := store.FindByID(r.Context(), accountID)
		if err != nil {
			if errors.Is(err, account.ErrAccountNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to load account")
			return
		}

		next.ServeHTTP(w, r.WithContext(account.WithActor(r.Context(), actor)))
	})
}

// RequireRole rejects requests whose actor does not hold role. Admins hold
// every role.
func RequireRole(role account.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := account.ActorFromContext(r.Context())
		if !account.CanAccess(actor, 0, role) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
