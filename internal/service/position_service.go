package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
)

// PositionService builds user portfolios from positions and market state.
type PositionService struct {
	engine  *exchange.Engine
	markets *MarketService
	logger  *slog.Logger
}

// NewPositionService creates a PositionService.
func NewPositionService(engine *exchange.Engine, markets *MarketService, logger *slog.Logger) *PositionService {
	return &PositionService{
		engine:  engine,
		markets: markets,
		logger:  logger.With(slog.String("component", "position_service")),
	}
}

// PositionView is a position valued against its market.
type PositionView struct {
	domain.Position
	Title  string
	Status domain.MarketStatus
	// CurrentValue is Shares * price * PayoutPerShare while the market is
	// unsettled and the credited payout afterwards.
	CurrentValue    float64
	PotentialReturn float64
}

// Portfolio is a user's balance and positions.
type Portfolio struct {
	UserID  string
	Balance float64
	// TotalValue is the balance plus the current value of open positions.
	TotalValue float64
	Open       []PositionView
	Settled    []PositionView
}

// Portfolio values every position of the user. Positions in closed but not
// yet settled markets count as open.
func (s *PositionService) Portfolio(ctx context.Context, userID string) (Portfolio, error) {
	u, err := s.engine.GetUser(ctx, userID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("position_service: %w", err)
	}
	positions, err := s.engine.GetPositions(ctx, userID)
	if err != nil {
		return Portfolio{}, fmt.Errorf("position_service: %w", err)
	}

	out := Portfolio{UserID: userID, Balance: u.Balance, TotalValue: u.Balance}
	markets := make(map[string]domain.Market)
	for _, p := range positions {
		if p.Shares <= 0 {
			continue
		}
		m, ok := markets[p.MarketID]
		if !ok {
			m, err = s.markets.GetMarket(ctx, p.MarketID)
			if err != nil {
				return Portfolio{}, fmt.Errorf("position_service: %w", err)
			}
			markets[p.MarketID] = m
		}

		view := PositionView{
			Position:        p,
			Title:           m.Title,
			Status:          m.Status,
			PotentialReturn: p.Shares * domain.PayoutPerShare,
		}
		if p.Settled {
			view.CurrentValue = p.Payout
			out.Settled = append(out.Settled, view)
			continue
		}
		i, ok := m.OutcomeIndex(p.Outcome)
		if !ok {
			s.logger.WarnContext(ctx, "position outcome not in market",
				slog.String("market_id", p.MarketID),
				slog.String("outcome", p.Outcome),
			)
			continue
		}
		view.CurrentValue = p.Shares * lmsr.Price(m.Shares, m.Liquidity, i) * domain.PayoutPerShare
		out.TotalValue += view.CurrentValue
		out.Open = append(out.Open, view)
	}
	return out, nil
}
