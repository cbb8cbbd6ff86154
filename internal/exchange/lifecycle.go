package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// CanTrade reports whether the market accepts trades.
func CanTrade(m domain.Market) bool {
	return m.Status == domain.MarketStatusOpen
}

// Advance closes an open market whose start time has been reached. Any other
// market is returned unchanged. The boolean reports whether m changed.
func Advance(m domain.Market, now time.Time) (domain.Market, bool) {
	if m.Status != domain.MarketStatusOpen || now.Before(m.StartsAt) {
		return m, false
	}
	if err := transition(&m, domain.MarketStatusClosed, now); err != nil {
		return m, false
	}
	return m, true
}

// transition is the only place a market's status changes.
func transition(m *domain.Market, to domain.MarketStatus, at time.Time) error {
	if m.Status == to || !m.Status.CanTransition(to) {
		return fmt.Errorf("exchange: market %s %s -> %s: %w", m.ID, m.Status, to, domain.ErrInvalidTransition)
	}
	m.Status = to
	m.UpdatedAt = at
	switch to {
	case domain.MarketStatusClosed:
		m.ClosedAt = &at
	case domain.MarketStatusSettled:
		m.SettledAt = &at
	}
	return nil
}

// AdvanceLifecycle applies Advance to the stored market at time now and
// returns the market as it stands afterwards. Calling it repeatedly is safe.
func (e *Engine) AdvanceLifecycle(ctx context.Context, marketID string, now time.Time) (domain.Market, error) {
	var out domain.Market
	err := e.store.WithMarket(ctx, marketID, func(tx domain.Tx) error {
		m, err := tx.Market(ctx)
		if err != nil {
			return err
		}
		next, changed := Advance(m, now.UTC())
		if changed {
			if err := tx.PutMarket(ctx, next); err != nil {
				return err
			}
		}
		out = next
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("exchange: advance %s: %w", marketID, err)
	}
	return out, nil
}

// RecordScore stores the final score of the market's game. The status is not
// changed; settlement is a separate step.
func (e *Engine) RecordScore(ctx context.Context, marketID string, score [2]int) (domain.Market, error) {
	if score[0] < 0 || score[1] < 0 {
		return domain.Market{}, fmt.Errorf("exchange: score %v: %w", score, domain.ErrInvalidScore)
	}
	var out domain.Market
	err := e.store.WithMarket(ctx, marketID, func(tx domain.Tx) error {
		m, err := tx.Market(ctx)
		if err != nil {
			return err
		}
		if m.Status == domain.MarketStatusSettled {
			return domain.ErrAlreadySettled
		}
		s := score
		m.FinalScore = &s
		m.UpdatedAt = e.now()
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("exchange: record score %s: %w", marketID, err)
	}
	return out, nil
}
