package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-relay/internal/handler"
	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
)

type routes struct {
	logger         *logger.Logger
	jwtSecret      string
	allowedOrigins []string
	maxBodyBytes   int64

	health        *handler.HealthHandler
	chat          *handler.ChatHandler
	conversations *handler.ConversationHandler
	settings      *handler.SettingsHandler
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(rt.logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.allowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", rt.health.Health)
	r.Get("/ready", rt.health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(rt.jwtSecret))
		r.Use(middleware.LimitBody(rt.maxBodyBytes))
		r.Use(middleware.RequireJSON)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/send", rt.chat.Send)
			r.Post("/stream", rt.chat.Stream)
			r.Get("/models", rt.chat.Models)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", rt.conversations.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rt.conversations.Show)
				r.Patch("/title", rt.conversations.Rename)
				r.Delete("/", rt.conversations.Delete)
			})
		})

		r.Get("/settings", rt.settings.Get)
		r.Post("/settings", rt.settings.Save)
	})

	return r
}
