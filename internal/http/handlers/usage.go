package handlers

import (
	"net/http"
	"strings"
)

// UsageSummary serves the per-user cost rollup from the usage ledger.
func (a *App) UsageSummary(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "userId is required")
		return
	}
	if a.Usage == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "usage ledger not configured")
		return
	}

	summary, err := a.Usage.TotalCostByUser(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("usage: rollup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read usage")
		return
	}

	a.json(w, http.StatusOK, summary)
}
