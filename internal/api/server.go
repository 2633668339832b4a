package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/HalSarj/JaaS/internal/config"
	"github.com/HalSarj/JaaS/internal/metrics"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Handlers bundles the wired endpoint handlers for NewServer.
type Handlers struct {
	Webhook *WebhookHandler
	Records *RecordsHandler
	Auth    *AuthHandler
	Health  *HealthHandler
}

func NewServer(cfg *config.Config, h Handlers, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	// Provider-facing webhook. Authenticated by HMAC signature, not by
	// the bearer token.
	r.Get("/webhook", h.Webhook.Challenge)
	r.Post("/webhook", h.Webhook.Notify)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", h.Health.ServeHTTP)

		// OAuth handshake, reached by browser redirects that carry no
		// Authorization header
		h.Auth.BrowserRoutes(r)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			h.Records.Routes(r)
			h.Auth.Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
