package server

import (
	"net/http"

	"github.com/cloo-solutions/salesdojo/internal/api"
	"github.com/cloo-solutions/salesdojo/internal/api/handlers"
	"github.com/cloo-solutions/salesdojo/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const defaultMaxBodyBytes int64 = 5 * 1024 * 1024

type RouterConfig struct {
	AuthValidator    middleware.AuthValidator
	KnowledgeHandler *handlers.KnowledgeHandler
	SessionHandler   *handlers.SessionHandler
	WebhookHandler   *handlers.WebhookHandler
	PersonaHandler   *handlers.PersonaHandler
	WebhookSecret    string
	Logger           logrus.FieldLogger
	// MaxBodyBytes caps every request body; UploadBodyBytes replaces it
	// for multipart document uploads.
	MaxBodyBytes    int64
	UploadBodyBytes int64
	// MetricsHandler is served on /metrics when set.
	MetricsHandler http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.UploadBodyBytes < cfg.MaxBodyBytes {
		cfg.UploadBodyBytes = cfg.MaxBodyBytes
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodyBytes(cfg.MaxBodyBytes))
		r.Use(middleware.WebhookSecret(cfg.WebhookSecret))
		r.Post("/webhooks/call", cfg.WebhookHandler.Handle)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.With(middleware.MaxBodyBytes(cfg.UploadBodyBytes)).
			Post("/knowledge/documents", cfg.KnowledgeHandler.UploadDocuments)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodyBytes(cfg.MaxBodyBytes))

			r.Route("/knowledge", func(r chi.Router) {
				r.Post("/text", cfg.KnowledgeHandler.IngestText)
				r.Post("/website", cfg.KnowledgeHandler.IngestWebsite)
				r.Get("/status", cfg.KnowledgeHandler.Status)
				r.Get("/sources", cfg.KnowledgeHandler.Sources)
				r.Delete("/sources/{source_name}", cfg.KnowledgeHandler.DeleteSource)
				r.Post("/search", cfg.KnowledgeHandler.Search)
			})

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", cfg.SessionHandler.List)
				r.Post("/", cfg.SessionHandler.Start)
				r.Get("/{id}", cfg.SessionHandler.Get)
				r.Post("/{id}/end", cfg.SessionHandler.End)
				r.Post("/{id}/abandon", cfg.SessionHandler.Abandon)
			})

			r.Route("/personas", func(r chi.Router) {
				r.Get("/", cfg.PersonaHandler.List)
				r.Post("/", cfg.PersonaHandler.Create)
				r.Get("/random", cfg.PersonaHandler.Random)
				r.Get("/{id}", cfg.PersonaHandler.Get)
			})
		})
	})

	return r
}
