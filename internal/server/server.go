package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/server/handler"
	"github.com/alanyoungcy/polyjacket/internal/server/middleware"
	"github.com/alanyoungcy/polyjacket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	AdminAPIKey   string // if empty, the admin routes answer 403
	SessionSecret []byte
	CookieSecure  bool
	// TradeRateLimit trades are allowed per RateWindow per user. Zero
	// disables the limit.
	TradeRateLimit int
	RateWindow     time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Markets   *handler.MarketHandler
	Trades    *handler.TradeHandler
	Users     *handler.UserHandler
	Positions *handler.PositionHandler
	Games     *handler.GamesHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the exchange.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter may be nil, in which case trades are not rate limited.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full middleware-wrapped handler tree.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	identity := middleware.Identity(middleware.IdentityConfig{
		Secret: cfg.SessionSecret,
		Secure: cfg.CookieSecure,
	}, logger)
	user := func(h http.HandlerFunc) http.Handler { return identity(h) }
	admin := middleware.AdminAuth(cfg.AdminAPIKey)

	// Public reads.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Markets.GetPrices)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Markets.Quote)
	mux.HandleFunc("GET /api/games", handlers.Games.ListGames)
	mux.HandleFunc("GET /api/settlements", handlers.Games.ListSettlements)

	// Cookie-identified user routes.
	mux.Handle("GET /api/user", user(handlers.Users.GetUser))
	mux.Handle("GET /api/portfolio", user(handlers.Positions.GetPortfolio))
	var trade http.Handler = http.HandlerFunc(handlers.Trades.ExecuteTrade)
	if limiter != nil && cfg.TradeRateLimit > 0 {
		trade = middleware.RateLimit(limiter, "trade", cfg.TradeRateLimit, cfg.RateWindow, logger)(trade)
	}
	mux.Handle("POST /api/trade", identity(trade))

	// Operator routes.
	mux.Handle("POST /api/admin/markets", admin(http.HandlerFunc(handlers.Admin.CreateMarket)))
	mux.Handle("POST /api/admin/markets/{id}/score", admin(http.HandlerFunc(handlers.Admin.RecordScore)))
	mux.Handle("POST /api/admin/markets/{id}/settle", admin(http.HandlerFunc(handlers.Admin.SettleMarket)))
	mux.Handle("POST /api/admin/sweep", admin(http.HandlerFunc(handlers.Admin.Sweep)))
	mux.Handle("POST /api/admin/games/refresh", admin(http.HandlerFunc(handlers.Admin.RefreshGames)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
