package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
)

// PriceService answers price and quote queries from cached snapshots.
type PriceService struct {
	markets *MarketService
	engine  *exchange.Engine
}

// NewPriceService creates a PriceService.
func NewPriceService(markets *MarketService, engine *exchange.Engine) *PriceService {
	return &PriceService{markets: markets, engine: engine}
}

// OutcomePrice is the price of one outcome.
type OutcomePrice struct {
	Outcome string
	Price   float64
}

// GetPrices returns the price of both outcomes of a market.
func (s *PriceService) GetPrices(ctx context.Context, marketID string) ([2]OutcomePrice, error) {
	m, err := s.markets.GetMarket(ctx, marketID)
	if err != nil {
		return [2]OutcomePrice{}, err
	}
	p := lmsr.Prices(m.Shares, m.Liquidity)
	return [2]OutcomePrice{
		{Outcome: m.Outcomes[0], Price: p[0]},
		{Outcome: m.Outcomes[1], Price: p[1]},
	}, nil
}

// GetPrice returns the price of one outcome.
func (s *PriceService) GetPrice(ctx context.Context, marketID, outcome string) (float64, error) {
	m, err := s.markets.GetMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	i, ok := m.OutcomeIndex(outcome)
	if !ok {
		return 0, fmt.Errorf("price_service: outcome %q in market %s: %w", outcome, marketID, domain.ErrInvalidOutcome)
	}
	return lmsr.Price(m.Shares, m.Liquidity, i), nil
}

// Quote previews a purchase against the stored market state.
func (s *PriceService) Quote(ctx context.Context, marketID, outcome string, amount float64) (lmsr.Quote, error) {
	q, err := s.engine.Quote(ctx, marketID, outcome, amount)
	if err != nil {
		return lmsr.Quote{}, fmt.Errorf("price_service: %w", err)
	}
	return q, nil
}
