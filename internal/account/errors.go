package account

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidCredentials = errors.New("email or password is incorrect")
	ErrInvalidToken       = errors.New("invalid token")
	ErrVerificationFailed = errors.New("verification failed")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrAccountNotFound    = errors.New("account not found")

	// ErrConcurrentUpdate is returned by a store when a refresh token was
	// revoked by another writer between load and save.
	ErrConcurrentUpdate = errors.New("refresh token changed concurrently")
)

// IsBadRequest reports whether err is one of the kinds callers render as a
// bad request.
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrVerificationFailed) ||
		errors.Is(err, ErrEmailTaken)
}

func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsBadRequest(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
