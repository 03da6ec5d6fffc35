package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sushil32/Neura/internal/assets"
	"github.com/sushil32/Neura/internal/config"
	"github.com/sushil32/Neura/internal/database"
	"github.com/sushil32/Neura/internal/events"
	"github.com/sushil32/Neura/internal/jobs"
	"github.com/sushil32/Neura/internal/live"
	"github.com/sushil32/Neura/internal/metrics"
	"github.com/sushil32/Neura/internal/storage"
)

// Deps carries everything the HTTP layer serves. Nil members disable
// their routes rather than failing startup.
type Deps struct {
	DB         *database.DB
	Store      jobs.Store
	Pool       *jobs.WorkerPool
	Bus        *events.Bus
	MQTT       *events.MQTTPublisher
	Artifacts  storage.ArtifactStore
	Assets     *assets.Catalog
	Live       *live.Manager
	NewSession SessionFactory
	Version    string
	StartTime  time.Time
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)
	if cfg.RateLimitRPS > 0 {
		r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateBurst))
	}

	// Health and metrics stay unauthenticated for probes and scrapers.
	health := NewHealthHandler(deps.DB, deps.MQTT, deps.Pool, deps.Live, deps.Artifacts, deps.Version, deps.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		NewJobsHandler(deps.Pool, deps.Store, deps.Artifacts).Routes(r)
		NewEventsHandler(deps.Bus).Routes(r)
		NewAssetsHandler(deps.Assets).Routes(r)
		r.Get("/live", NewLiveHandler(deps.Live, deps.NewSession).Serve)
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

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.http.Handler }

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
