// Package exchange is the market engine: it prices trades with LMSR, moves
// markets through their lifecycle and settles them against final scores.
//
// Every mutation runs inside domain.Store.WithMarket, so all changes to a
// market and the users trading on it are serialised and applied atomically.
// The engine performs no logging or retries; callers own those concerns.
package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
)

// Engine exposes the market operations over a Store.
type Engine struct {
	store domain.Store
	now   func() time.Time
}

// New creates an Engine backed by store using the wall clock.
func New(store domain.Store) *Engine {
	return &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the engine's clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// CreateMarket validates nm and stores a new open market with zero shares.
func (e *Engine) CreateMarket(ctx context.Context, nm domain.NewMarket) (domain.Market, error) {
	if nm.Outcomes == [2]string{} {
		nm.Outcomes = domain.DefaultOutcomes
	}
	if err := validateNewMarket(nm); err != nil {
		return domain.Market{}, err
	}

	now := e.now()
	m := domain.Market{
		ID:        nm.ID,
		GameID:    nm.GameID,
		Title:     nm.Title,
		Sport:     nm.Sport,
		Outcomes:  nm.Outcomes,
		Liquidity: nm.Liquidity,
		Status:    domain.MarketStatusOpen,
		StartsAt:  nm.StartsAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("exchange: create market %s: %w", m.ID, err)
	}
	return m, nil
}

func validateNewMarket(nm domain.NewMarket) error {
	switch {
	case strings.TrimSpace(nm.ID) == "":
		return fmt.Errorf("exchange: empty market id: %w", domain.ErrInvalidMarket)
	case strings.TrimSpace(nm.Outcomes[0]) == "" || strings.TrimSpace(nm.Outcomes[1]) == "":
		return fmt.Errorf("exchange: empty outcome label: %w", domain.ErrInvalidMarket)
	case nm.Outcomes[0] == nm.Outcomes[1]:
		return fmt.Errorf("exchange: duplicate outcome %q: %w", nm.Outcomes[0], domain.ErrInvalidMarket)
	case !(nm.Liquidity > 0) || math.IsInf(nm.Liquidity, 0):
		return fmt.Errorf("exchange: liquidity %v: %w", nm.Liquidity, domain.ErrInvalidMarket)
	case nm.StartsAt.IsZero():
		return fmt.Errorf("exchange: missing start time: %w", domain.ErrInvalidMarket)
	}
	return nil
}

// GetMarket returns a market by id.
func (e *Engine) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := e.store.GetMarket(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("exchange: get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets matching f.
func (e *Engine) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	ms, err := e.store.ListMarkets(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("exchange: list markets: %w", err)
	}
	return ms, nil
}

// CountMarkets returns the number of markets per status.
func (e *Engine) CountMarkets(ctx context.Context) (domain.MarketCounts, error) {
	c, err := e.store.CountMarkets(ctx)
	if err != nil {
		return domain.MarketCounts{}, fmt.Errorf("exchange: count markets: %w", err)
	}
	return c, nil
}

// GetPrice returns the current price of outcome in the market.
func (e *Engine) GetPrice(ctx context.Context, marketID, outcome string) (float64, error) {
	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return 0, err
	}
	i, ok := m.OutcomeIndex(outcome)
	if !ok {
		return 0, fmt.Errorf("exchange: outcome %q in market %s: %w", outcome, marketID, domain.ErrInvalidOutcome)
	}
	return lmsr.Price(m.Shares, m.Liquidity, i), nil
}

// Quote previews a purchase of amount tokens of outcome without executing it.
func (e *Engine) Quote(ctx context.Context, marketID, outcome string, amount float64) (lmsr.Quote, error) {
	if err := validateAmount(amount); err != nil {
		return lmsr.Quote{}, err
	}
	m, err := e.GetMarket(ctx, marketID)
	if err != nil {
		return lmsr.Quote{}, err
	}
	i, ok := m.OutcomeIndex(outcome)
	if !ok {
		return lmsr.Quote{}, fmt.Errorf("exchange: outcome %q in market %s: %w", outcome, marketID, domain.ErrInvalidOutcome)
	}
	q, err := lmsr.QuoteBuy(m.Shares, m.Liquidity, i, amount)
	if err != nil {
		return lmsr.Quote{}, fmt.Errorf("exchange: quote %s: %w", marketID, err)
	}
	return q, nil
}

// CreateUser registers a user with the given starting balance.
func (e *Engine) CreateUser(ctx context.Context, id string, balance float64) (domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return domain.User{}, fmt.Errorf("exchange: empty user id: %w", domain.ErrInvalidUser)
	}
	if balance < 0 || math.IsNaN(balance) || math.IsInf(balance, 0) {
		return domain.User{}, fmt.Errorf("exchange: starting balance %v: %w", balance, domain.ErrInvalidAmount)
	}
	now := e.now()
	u := domain.User{ID: id, Balance: balance, CreatedAt: now, UpdatedAt: now}
	if err := e.store.CreateUser(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("exchange: create user %s: %w", id, err)
	}
	return u, nil
}

// GetUser returns a user by id.
func (e *Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("exchange: get user %s: %w", id, err)
	}
	return u, nil
}

// GetPositions returns every position held by the user, open and settled.
func (e *Engine) GetPositions(ctx context.Context, userID string) ([]domain.Position, error) {
	ps, err := e.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("exchange: positions of %s: %w", userID, err)
	}
	return ps, nil
}
