package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/catalog-feed/internal/feed"
	"github.com/couchcryptid/catalog-feed/internal/nearby"
	"github.com/couchcryptid/catalog-feed/internal/viewport"
)

// SessionHeader carries the nearby-search session of a client.
const SessionHeader = "X-Session-ID"

// Deps are the services the HTTP API is served from.
type Deps struct {
	Ready           sharedobs.ReadinessChecker
	Feed            *feed.Service
	Sessions        *nearby.Sessions
	Sentinel        *viewport.Sentinel
	Hub             *viewport.Hub
	DefaultRadiusKm float64
}

// Server exposes the feed API alongside health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *slog.Logger

	// Watches run under baseCtx so Shutdown can stop them.
	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	watches map[string]*watch
	wg      sync.WaitGroup
}

type watch struct {
	cancel context.CancelFunc
}

// NewServer creates the HTTP server and its routes.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			// Nearby searches wait for the location before fetching.
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deps:    deps,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		watches: make(map[string]*watch),
	}

	r.Get("/healthz", sharedobs.LivenessHandler())
	r.Get("/readyz", sharedobs.ReadinessHandler(deps.Ready))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/feed", s.handleFeed)
		r.Post("/feed/refresh", s.handleRefresh)
		r.Post("/feed/more", s.handleMore)
		r.Post("/feed/watch", s.handleWatch)
		r.Delete("/feed/watch/{marker}", s.handleUnwatch)
		r.Put("/viewport/{marker}", s.handleViewport)

		r.Get("/nearby", s.handleNearbySnapshot)
		r.Post("/nearby", s.handleNearbySearch)
		r.Post("/nearby/more", s.handleNearbyMore)
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops running watches and drains connections within the given
// context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
