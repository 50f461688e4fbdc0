// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/veridoc-ai/veridoc/cmd/veridoc-api/handlers"
	"github.com/veridoc-ai/veridoc/cmd/veridoc-api/middleware"
	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/internal/observability"
	"github.com/veridoc-ai/veridoc/internal/orchestrator"
)

// NewRouter creates the main API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, pipeline *orchestrator.Pipeline) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"veridoc"}`))
	})

	submissions := handlers.NewSubmissionHandler(logger, pipeline, handlers.SubmissionConfig{
		StorageDir:     cfg.Storage.Dir,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
	})
	verifications := handlers.NewVerificationHandler(logger, pipeline)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/owners/{ownerId}", func(r chi.Router) {
			r.Post("/documents", submissions.Submit)
			r.Get("/verification", verifications.Group)
		})
		r.Route("/documents/{submissionId}", func(r chi.Router) {
			r.Get("/status", submissions.Status)
			r.Post("/cancel", submissions.Cancel)
		})
	})

	return r
}
