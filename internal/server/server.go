package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/alanyoungcy/bookauction/internal/server/handler"
	"github.com/alanyoungcy/bookauction/internal/server/middleware"
	"github.com/alanyoungcy/bookauction/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr        string
	CORSOrigins []string

	// RequestsPerMinute caps API requests per client address. Zero disables
	// the limit, as does a nil Limiter.
	RequestsPerMinute int
	Limiter           domain.RateLimiter

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
	Bids     *handler.BidHandler
	Audit    *handler.AuditHandler
}

// Server is the auction HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route on a ServeMux and wraps it in the
// middleware chain. wsHub and handlers.Audit may be nil.
func NewServer(cfg Config, handlers Handlers, idp domain.IdentityProvider, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	authed := middleware.Authenticate(idp, logger)
	route := func(pattern string, h http.HandlerFunc, roles ...domain.Role) {
		var next http.Handler = h
		if len(roles) > 0 {
			next = middleware.RequireRole(roles...)(next)
		}
		mux.Handle(pattern, authed(next))
	}

	mux.HandleFunc("GET /health", handlers.Health.Health)

	route("GET /api/auctions", handlers.Auctions.List)
	route("GET /api/auctions/{id}", handlers.Auctions.Get)
	route("POST /api/auctions", handlers.Auctions.Create, domain.RolePublisher, domain.RoleAdmin)
	route("POST /api/auctions/{id}/approve", handlers.Auctions.Approve, domain.RoleAdmin)
	route("POST /api/auctions/{id}/reject", handlers.Auctions.Reject, domain.RoleAdmin)
	route("GET /api/admin/auctions/pending", handlers.Auctions.Pending, domain.RoleAdmin)

	route("POST /api/auctions/{id}/bid", handlers.Bids.PlaceBid, domain.RoleBuyer)
	route("GET /api/auctions/{id}/poll", handlers.Bids.Poll)

	if handlers.Audit != nil {
		route("GET /api/admin/audit", handlers.Audit.List, domain.RoleAdmin)
	}
	if wsHub != nil {
		route("GET /ws/auctions/{id}", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if cfg.Limiter != nil && cfg.RequestsPerMinute > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RequestsPerMinute, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  orDefault(cfg.IdleTimeout, 60*time.Second),
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
