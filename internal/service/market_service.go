package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
)

// MarketService creates markets, serves cached snapshots and drives the
// time-based part of the lifecycle.
type MarketService struct {
	engine *exchange.Engine
	cache  domain.MarketCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	engine *exchange.Engine,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		engine: engine,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		logger: logger.With(slog.String("component", "market_service")),
	}
}

// MarketList is a page of markets plus the per-status totals.
type MarketList struct {
	Markets []domain.Market
	Counts  domain.MarketCounts
}

// CreateMarket opens a new market and announces it.
func (s *MarketService) CreateMarket(ctx context.Context, nm domain.NewMarket) (domain.Market, error) {
	m, err := s.engine.CreateMarket(ctx, nm)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}
	s.announce(ctx, "market_created", m)
	auditLog(ctx, s.audit, s.logger, "market.created", map[string]any{
		"market_id": m.ID,
		"game_id":   m.GameID,
		"liquidity": m.Liquidity,
		"starts_at": m.StartsAt.Format(time.RFC3339),
	})
	s.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.String("title", m.Title),
	)
	return m, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "cache get failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}

	m, err := s.engine.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
	return m, nil
}

// ListMarkets returns the markets matching f together with the counts of
// every status, regardless of f.
func (s *MarketService) ListMarkets(ctx context.Context, f domain.MarketFilter) (MarketList, error) {
	ms, err := s.engine.ListMarkets(ctx, f)
	if err != nil {
		return MarketList{}, fmt.Errorf("market_service: %w", err)
	}
	counts, err := s.engine.CountMarkets(ctx)
	if err != nil {
		return MarketList{}, fmt.Errorf("market_service: %w", err)
	}
	return MarketList{Markets: ms, Counts: counts}, nil
}

// AdvanceLifecycle closes the market if its start time has passed.
func (s *MarketService) AdvanceLifecycle(ctx context.Context, id string, now time.Time) (domain.Market, error) {
	before, err := s.engine.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}
	m, err := s.engine.AdvanceLifecycle(ctx, id, now)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}
	if m.Status != before.Status {
		invalidate(ctx, s.cache, s.logger, id)
		s.announce(ctx, "market_closed", m)
		s.logger.InfoContext(ctx, "market closed", slog.String("market_id", id))
	}
	return m, nil
}

// RecordScore stores the final score of a market's game.
func (s *MarketService) RecordScore(ctx context.Context, id string, score [2]int) (domain.Market, error) {
	m, err := s.engine.RecordScore(ctx, id, score)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: %w", err)
	}
	invalidate(ctx, s.cache, s.logger, id)
	auditLog(ctx, s.audit, s.logger, "market.score_recorded", map[string]any{
		"market_id": id,
		"score":     []int{score[0], score[1]},
	})
	return m, nil
}

// SweepLifecycle advances every open market whose start time is at or
// before now and returns how many were closed. A failure on one market does
// not stop the sweep; all failures are returned together.
func (s *MarketService) SweepLifecycle(ctx context.Context, now time.Time) (int, error) {
	open, err := s.engine.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusOpen})
	if err != nil {
		return 0, fmt.Errorf("market_service: sweep: %w", err)
	}
	var (
		closed int
		errs   []error
	)
	for _, m := range open {
		if now.Before(m.StartsAt) {
			continue
		}
		next, err := s.AdvanceLifecycle(ctx, m.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if next.Status == domain.MarketStatusClosed {
			closed++
		}
	}
	if closed > 0 {
		s.logger.InfoContext(ctx, "lifecycle sweep", slog.Int("closed", closed))
	}
	return closed, errors.Join(errs...)
}

func (s *MarketService) announce(ctx context.Context, event string, m domain.Market) {
	publish(ctx, s.bus, s.logger, domain.ChannelMarkets, domain.MarketEvent{
		Event:    event,
		MarketID: m.ID,
		Status:   m.Status,
		Prices:   lmsr.Prices(m.Shares, m.Liquidity),
		At:       m.UpdatedAt,
	})
}
