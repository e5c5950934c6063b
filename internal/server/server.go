// Package server is the HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/metrics"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server/handler"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server/middleware"
	"github.com/statera-protocol/statera-protocol-midnight/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // empty disables authentication
	RateLimit    int    // requests per minute per client, 0 disables
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates the route handlers. Nil handlers leave their routes
// unregistered, except Health and Liquidation which are required.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Liquidation *handler.LiquidationHandler
	Positions   *handler.PositionHandler
	Oracle      *handler.OracleHandler
	Monitors    *handler.MonitorHandler
	Archives    *handler.ArchiveHandler
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *slog.Logger
}

// NewServer builds the router. limiter and hub may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/api/health", h.Health.HealthCheck)
	r.Handle("/metrics", metrics.Handler())
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", h.Health.Welcome)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.APIKey))
			r.Use(middleware.RateLimit(limiter, cfg.RateLimit, time.Minute))

			r.Post("/liquidate", h.Liquidation.Liquidate)
			r.Get("/liquidations", h.Liquidation.List)

			if h.Status != nil {
				r.Get("/status", h.Status.GetStatus)
			}
			if h.Positions != nil {
				r.Get("/positions/{id}", h.Positions.GetPosition)
				r.Get("/protocol", h.Positions.GetProtocol)
			}
			if h.Oracle != nil {
				r.Get("/oracle/price", h.Oracle.GetPrice)
				r.Get("/oracle/sources", h.Oracle.GetSources)
				r.Get("/oracle/history", h.Oracle.GetHistory)
				r.Post("/oracle/advance", h.Oracle.Advance)
			}
			if h.Monitors != nil {
				r.Get("/monitors", h.Monitors.List)
				r.Post("/monitors", h.Monitors.Watch)
				r.Delete("/monitors/{id}", h.Monitors.Unwatch)
			}
			if h.Archives != nil {
				r.Get("/archives", h.Archives.List)
				r.Post("/archives/liquidations", h.Archives.ArchiveLiquidations)
			}
		})
	})

	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		// A liquidation request waits for the ledger round trip.
		writeTimeout = 3 * time.Minute
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  60 * time.Second,
		},
		router: r,
		logger: logger,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
