package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"account-api/internal/observability"
)

// ResetTokenCleaner drops password reset tokens that expired at or before now.
type ResetTokenCleaner interface {
	ClearExpiredResetTokens(ctx context.Context, now time.Time) (int64, error)
}

type CleanupResult struct {
	ClearedResetTokens int64 `json:"cleared_reset_tokens"`
}

type CleanupHandler struct {
	store      ResetTokenCleaner
	logger     *observability.Logger
	cronSecret string
	now        func() time.Time
}

func NewCleanupHandler(store ResetTokenCleaner, logger *observability.Logger, cronSecret string) *CleanupHandler {
	return &CleanupHandler{
		store:      store,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle is disabled (404) unless a cron secret is configured, and then
// requires it as a bearer token.
func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cleared, err := h.store.ClearExpiredResetTokens(r.Context(), h.now())
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("reset_token_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("reset_token_cleanup_completed", map[string]any{"cleared_reset_tokens": cleared})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": CleanupResult{ClearedResetTokens: cleared},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
