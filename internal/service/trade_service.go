package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
	"github.com/alanyoungcy/polyjacket/internal/notify"
)

// TradeService executes trades for users and fans the result out.
type TradeService struct {
	engine   *exchange.Engine
	cache    domain.MarketCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	engine *exchange.Engine,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		engine:   engine,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "trade_service")),
	}
}

// Execute buys amount tokens' worth of outcome for the user.
func (s *TradeService) Execute(ctx context.Context, marketID, userID, outcome string, amount float64) (domain.TradeResult, error) {
	res, err := s.engine.ExecuteTrade(ctx, marketID, userID, outcome, amount)
	if err != nil {
		s.handleFailure(ctx, marketID, userID, outcome, amount, err)
		return domain.TradeResult{}, fmt.Errorf("trade_service: %w", err)
	}

	invalidate(ctx, s.cache, s.logger, marketID)

	m, err := s.engine.GetMarket(ctx, marketID)
	outcomes := domain.DefaultOutcomes
	if err == nil {
		outcomes = m.Outcomes
	}
	// the event carries no user id; subscribers are anonymous
	publish(ctx, s.bus, s.logger, domain.ChannelTrades, domain.TradeEvent{
		Event:      "trade_executed",
		MarketID:   marketID,
		Outcome:    outcome,
		Shares:     res.Shares,
		Amount:     res.Amount,
		Prices:     res.Prices,
		Outcomes:   outcomes,
		ExecutedAt: res.ExecutedAt,
	})
	auditLog(ctx, s.audit, s.logger, "trade.executed", map[string]any{
		"market_id": marketID,
		"user_id":   userID,
		"outcome":   outcome,
		"amount":    res.Amount,
		"shares":    res.Shares,
	})
	s.logger.InfoContext(ctx, "trade executed",
		slog.String("market_id", marketID),
		slog.String("user_id", userID),
		slog.String("outcome", outcome),
		slog.Float64("amount", res.Amount),
		slog.Float64("shares", res.Shares),
		slog.Float64("new_price", res.NewPrice),
	)
	return res, nil
}

func (s *TradeService) handleFailure(ctx context.Context, marketID, userID, outcome string, amount float64, err error) {
	switch {
	case errors.Is(err, domain.ErrMarketNotOpen):
		// a due market is closed as a side effect of the rejected trade
		invalidate(ctx, s.cache, s.logger, marketID)
	case errors.Is(err, domain.ErrNumericalNonConvergence):
		s.logger.ErrorContext(ctx, "trade solver failed",
			slog.String("market_id", marketID),
			slog.String("user_id", userID),
			slog.String("outcome", outcome),
			slog.Float64("amount", amount),
			slog.String("error", err.Error()),
		)
		if nerr := s.notifier.Notifyf(ctx, notify.EventNumericalError, "Trade solver failed",
			"market %s outcome %s amount %.2f: %v", marketID, outcome, amount, err); nerr != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
		}
	}
}
