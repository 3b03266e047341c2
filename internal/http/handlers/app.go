// Package handlers implements the JSON API surface. Submission endpoints are
// synchronous fronts over the queues; status endpoints read the progress
// store; artifact endpoints read the object store.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"bookforge/internal/domain"
	"bookforge/internal/pipeline"
	"bookforge/internal/progress"
	"bookforge/internal/storage"
)

// UsageReader is the slice of the cost repository the usage endpoint needs.
type UsageReader interface {
	TotalCostByUser(ctx context.Context, userID string) (*domain.UsageSummary, error)
}

type App struct {
	Submitter *pipeline.Submitter
	Progress  *progress.Store
	Store     storage.BlobStore
	Usage     UsageReader
	Logger    zerolog.Logger
}

func NewApp(submitter *pipeline.Submitter, progressStore *progress.Store, store storage.BlobStore, usage UsageReader, logger zerolog.Logger) *App {
	return &App{
		Submitter: submitter,
		Progress:  progressStore,
		Store:     store,
		Usage:     usage,
		Logger:    logger,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
