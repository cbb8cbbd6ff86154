package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyjacket/internal/exchange"
	"github.com/alanyoungcy/polyjacket/internal/platform/schedule"
	"github.com/alanyoungcy/polyjacket/internal/scheduler"
	"github.com/alanyoungcy/polyjacket/internal/server"
	"github.com/alanyoungcy/polyjacket/internal/server/handler"
	"github.com/alanyoungcy/polyjacket/internal/server/ws"
	"github.com/alanyoungcy/polyjacket/internal/service"
)

// services holds the service layer shared by every mode.
type services struct {
	engine      *exchange.Engine
	markets     *service.MarketService
	prices      *service.PriceService
	trades      *service.TradeService
	settlements *service.SettlementService
	users       *service.UserService
	positions   *service.PositionService
	ingester    *scheduler.Ingester // nil without a schedule feed
	scheduler   *scheduler.Scheduler
}

func (a *App) buildServices(deps *Dependencies) (*services, error) {
	s := &services{engine: exchange.New(deps.Store)}
	s.markets = service.NewMarketService(s.engine, deps.MarketCache, deps.SignalBus, deps.Audit, a.logger)
	s.prices = service.NewPriceService(s.markets, s.engine)
	s.trades = service.NewTradeService(s.engine, deps.MarketCache, deps.SignalBus, deps.Audit, deps.Notifier, a.logger)
	s.settlements = service.NewSettlementService(s.engine, deps.MarketCache, deps.SignalBus, deps.Audit, deps.Notifier, a.logger)
	s.users = service.NewUserService(s.engine, a.cfg.Market.StartingBalance, a.logger)
	s.positions = service.NewPositionService(s.engine, s.markets, a.logger)

	if a.cfg.Schedule.BaseURL != "" {
		loc, err := a.cfg.Schedule.Location()
		if err != nil {
			return nil, fmt.Errorf("schedule timezone: %w", err)
		}
		s.ingester = scheduler.NewIngester(
			schedule.NewClient(a.cfg.Schedule.BaseURL, loc),
			s.markets,
			deps.Notifier,
			scheduler.IngestConfig{
				DaysBack:  a.cfg.Schedule.DaysBack,
				DaysAhead: a.cfg.Schedule.DaysAhead,
				Liquidity: a.cfg.Market.Liquidity,
			},
			a.logger,
		)
	}

	var archive *scheduler.ArchiveJob
	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Scheduler.ArchiveRetentionDays) * 24 * time.Hour
		archive = scheduler.NewArchiveJob(deps.Archiver, retention, deps.Notifier, a.logger)
	}

	// Built in every mode so the admin endpoints can run jobs on demand.
	s.scheduler = scheduler.New(
		s.ingester,
		s.markets,
		s.settlements,
		archive,
		deps.LockManager,
		scheduler.Config{
			IngestInterval: a.cfg.Scheduler.IngestInterval.Duration,
			SweepInterval:  a.cfg.Scheduler.SweepInterval.Duration,
			ArchiveCron:    a.cfg.Scheduler.ArchiveCron,
			LeaseTTL:       a.cfg.Scheduler.LeaseTTL.Duration,
		},
		a.logger,
	)
	return s, nil
}

// ServerMode serves the HTTP API and the WebSocket feed. Markets still close
// on the first trade after their start time; settlement waits for a
// scheduler node or an admin call.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// SchedulerMode runs ingestion, the lifecycle and settlement sweeps and the
// archive job without serving HTTP.
func (a *App) SchedulerMode(ctx context.Context, svc *services) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")
	if svc.ingester == nil {
		a.logger.WarnContext(ctx, "schedule.base_url is empty; ingestion disabled")
	}
	return svc.scheduler.Run(ctx)
}

// FullMode runs the scheduler and the HTTP server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *services) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.scheduler.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// noGames stands in for the ingester when no feed is configured.
type noGames struct{}

func (noGames) Games() ([]schedule.Game, time.Time) { return nil, time.Time{} }

// startHTTPServer adds the WebSocket hub and the HTTP server to g. The server
// is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: startedAt})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	var games handler.GameLister = noGames{}
	if svc.ingester != nil {
		games = svc.ingester
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, startedAt, svc.engine, a.logger),
		Markets:   handler.NewMarketHandler(svc.markets, svc.prices, a.logger),
		Trades:    handler.NewTradeHandler(svc.trades, svc.users, a.logger),
		Users:     handler.NewUserHandler(svc.users, a.logger),
		Positions: handler.NewPositionHandler(svc.positions, svc.users, a.logger),
		Games:     handler.NewGamesHandler(games, svc.settlements, a.logger),
		Admin:     handler.NewAdminHandler(svc.markets, svc.settlements, svc.scheduler, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		AdminAPIKey:    a.cfg.Server.AdminAPIKey,
		SessionSecret:  []byte(a.cfg.Server.SessionSecret),
		CookieSecure:   a.cfg.Server.CookieSecure,
		TradeRateLimit: a.cfg.Server.TradeRateLimit,
		RateWindow:     a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.Info("HTTP server shutting down", slog.Int("port", a.cfg.Server.Port))
		return srv.Shutdown(shutCtx)
	})
}
