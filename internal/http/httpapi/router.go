package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bookforge/internal/http/handlers"
	"bookforge/internal/middleware"
)

func NewRouter(app *handlers.App, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/analyze", func(r chi.Router) {
		r.Post("/", app.AnalyzeSubmit)
		r.Get("/status", app.AnalyzeStatus)
	})

	r.Route("/assets", func(r chi.Router) {
		r.Get("/", app.AssetsBundle)
		r.Post("/generate", app.AssetsGenerate)
		r.Get("/status", app.AssetsStatus)
	})

	r.Get("/usage", app.UsageSummary)

	return r
}
