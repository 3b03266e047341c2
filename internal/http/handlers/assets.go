package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"bookforge/internal/domain"
	"bookforge/internal/pipeline"
)

type assetsGenerateRequest struct {
	ReportID   string         `json:"reportId"`
	Genre      string         `json:"genre"`
	AuthorData map[string]any `json:"authorData"`
	SeriesData map[string]any `json:"seriesData"`
}

// AssetsGenerate re-triggers asset generation for a completed editorial run.
func (a *App) AssetsGenerate(w http.ResponseWriter, r *http.Request) {
	var req assetsGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.ReportID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "reportId is required")
		return
	}

	err := a.Submitter.SubmitAssets(r.Context(), pipeline.AssetRequest{
		ReportID:   req.ReportID,
		Genre:      req.Genre,
		AuthorData: req.AuthorData,
		SeriesData: req.SeriesData,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidReportID):
			a.error(w, http.StatusNotFound, "not_found", "unknown report id")
		case errors.Is(err, domain.ErrMissingPrerequisite):
			a.error(w, http.StatusConflict, "missing_prerequisite", "run analysis before generating assets")
		default:
			a.Logger.Error().Err(err).Msg("assets: submit failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to queue asset generation")
		}
		return
	}

	a.json(w, http.StatusAccepted, map[string]string{"reportId": req.ReportID})
}

// AssetsStatus serves the asset progress record, including the per-agent
// sub-status map and, once terminal, the bundle inline.
func (a *App) AssetsStatus(w http.ResponseWriter, r *http.Request) {
	reportID := strings.TrimSpace(r.URL.Query().Get("reportId"))
	if reportID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "reportId is required")
		return
	}

	rec, err := a.Progress.GetAsset(r.Context(), reportID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.json(w, http.StatusNotFound, map[string]string{"status": "not_started"})
			return
		}
		a.Logger.Error().Err(err).Str("report_id", reportID).Msg("assets: status read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read status")
		return
	}

	a.json(w, http.StatusOK, rec)
}

// AssetsBundle serves the persisted combined bundle for a report id.
func (a *App) AssetsBundle(w http.ResponseWriter, r *http.Request) {
	reportID := strings.TrimSpace(r.URL.Query().Get("id"))
	if reportID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id is required")
		return
	}

	manuscriptKey, err := a.Progress.ResolveReport(r.Context(), reportID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "unknown report id")
		return
	}

	data, err := a.Store.Get(r.Context(), manuscriptKey+"-assets.json")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no asset bundle for this report")
			return
		}
		a.Logger.Error().Err(err).Str("report_id", reportID).Msg("assets: bundle read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read bundle")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
