package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"bookforge/internal/domain"
	"bookforge/internal/pipeline"
)

type analyzeRequest struct {
	ManuscriptKey string `json:"manuscriptKey"`
	Genre         string `json:"genre"`
	StyleGuide    string `json:"styleGuide"`
}

// AnalyzeSubmit starts an editorial run and returns the report id the client
// polls with.
func (a *App) AnalyzeSubmit(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.ManuscriptKey) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "manuscriptKey is required")
		return
	}

	reportID, err := a.Submitter.SubmitEditorial(r.Context(), pipeline.EditorialRequest{
		ManuscriptKey: req.ManuscriptKey,
		Genre:         req.Genre,
		StyleGuide:    req.StyleGuide,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "manuscript not found")
			return
		}
		a.Logger.Error().Err(err).Msg("analyze: submit failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue analysis")
		return
	}

	a.json(w, http.StatusAccepted, map[string]string{"reportId": reportID})
}

// AnalyzeStatus serves the editorial progress record. Unknown or expired
// report ids answer not_started so pollers can distinguish "never existed or
// aged out" from a failed run.
func (a *App) AnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	reportID := strings.TrimSpace(r.URL.Query().Get("reportId"))
	if reportID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "reportId is required")
		return
	}

	rec, err := a.Progress.GetEditorial(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.json(w, http.StatusNotFound, map[string]string{"status": "not_started"})
			return
		}
		a.Logger.Error().Err(err).Str("report_id", reportID).Msg("analyze: status read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read status")
		return
	}

	a.json(w, http.StatusOK, rec)
}
