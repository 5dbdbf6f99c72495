package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/imageworks-api/internal/api"
	"github.com/phrazzld/imageworks-api/internal/api/middleware"
	"github.com/phrazzld/imageworks-api/internal/config"
	"github.com/phrazzld/imageworks-api/internal/platform/blob"
	"github.com/phrazzld/imageworks-api/internal/service"
)

// newRouter assembles the chi router with the shared middleware stack and
// the job routes. Everything under /api requires a verified bearer token.
func newRouter(
	cfg *config.Config,
	appLogger *slog.Logger,
	jobService service.JobService,
	blobs blob.Store,
) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Trace)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	jobHandler := api.NewJobHandler(jobService, blobs, cfg.Upload)
	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Authenticate)

		r.Post("/jobs", jobHandler.SubmitJob)
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/jobs/{id}/result", jobHandler.DownloadResult)
		r.Post("/uploads", jobHandler.UploadImage)
	})

	appLogger.Debug("router configured")
	return r
}
