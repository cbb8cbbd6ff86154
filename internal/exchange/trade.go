package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
)

func validateAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("exchange: amount %v: %w", amount, domain.ErrInvalidAmount)
	}
	return nil
}

// ExecuteTrade spends amount tokens of the user's balance on shares of
// outcome in the market.
//
// Preconditions are checked in order and each failure leaves every balance,
// position and market untouched: ErrInvalidAmount, ErrInvalidOutcome,
// ErrMarketNotOpen, ErrInsufficientBalance. A market whose start time has
// passed is closed as a side effect and the trade is rejected.
func (e *Engine) ExecuteTrade(ctx context.Context, marketID, userID, outcome string, amount float64) (domain.TradeResult, error) {
	if err := validateAmount(amount); err != nil {
		return domain.TradeResult{}, err
	}

	var (
		res domain.TradeResult
		due bool
	)
	now := e.now()
	err := e.store.WithMarket(ctx, marketID, func(tx domain.Tx) error {
		m, err := tx.Market(ctx)
		if err != nil {
			return err
		}
		i, ok := m.OutcomeIndex(outcome)
		if !ok {
			return fmt.Errorf("outcome %q: %w", outcome, domain.ErrInvalidOutcome)
		}
		if !CanTrade(m) {
			return fmt.Errorf("status %s: %w", m.Status, domain.ErrMarketNotOpen)
		}
		if _, closing := Advance(m, now); closing {
			due = true
			return fmt.Errorf("started at %s: %w", m.StartsAt.Format("2006-01-02T15:04:05Z07:00"), domain.ErrMarketNotOpen)
		}

		if err := tx.LockUsers(ctx, userID); err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
		if u.Balance < amount {
			return fmt.Errorf("balance %.2f < %.2f: %w", u.Balance, amount, domain.ErrInsufficientBalance)
		}

		shares, err := lmsr.SharesFor(m.Shares, m.Liquidity, i, amount)
		if err != nil {
			return err
		}

		pos, err := tx.GetPosition(ctx, userID, outcome)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			pos = domain.Position{
				UserID:    userID,
				MarketID:  m.ID,
				Outcome:   outcome,
				CreatedAt: now,
			}
		case err != nil:
			return err
		}

		u.Balance -= amount
		u.UpdatedAt = now
		m.Shares[i] += shares
		m.Volume += amount
		m.UpdatedAt = now
		pos.Shares += shares
		pos.CostBasis += amount
		pos.UpdatedAt = now

		if err := tx.PutUser(ctx, u); err != nil {
			return err
		}
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}

		prices := lmsr.Prices(m.Shares, m.Liquidity)
		res = domain.TradeResult{
			MarketID:     m.ID,
			UserID:       userID,
			Outcome:      outcome,
			Shares:       shares,
			Amount:       amount,
			AveragePrice: amount / shares,
			NewPrice:     prices[i],
			Prices:       prices,
			Balance:      u.Balance,
			Position:     pos,
			ExecutedAt:   now,
		}
		return nil
	})
	if err != nil {
		err = fmt.Errorf("exchange: trade %s: %w", marketID, err)
		if due {
			if _, aerr := e.AdvanceLifecycle(ctx, marketID, now); aerr != nil {
				err = errors.Join(err, aerr)
			}
		}
		return domain.TradeResult{}, err
	}
	return res, nil
}
