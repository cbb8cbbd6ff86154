package exchange

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// Winner returns the outcome label with the strictly greater score.
func Winner(outcomes [2]string, score [2]int) (string, error) {
	switch {
	case score[0] < 0 || score[1] < 0:
		return "", fmt.Errorf("score %v: %w", score, domain.ErrInvalidScore)
	case score[0] == score[1]:
		return "", fmt.Errorf("score %d-%d: %w", score[0], score[1], domain.ErrTiedScore)
	case score[0] > score[1]:
		return outcomes[0], nil
	default:
		return outcomes[1], nil
	}
}

// SettleMarket resolves a closed market against its final score. Every
// position on the winning outcome is credited Shares * PayoutPerShare, every
// position is flagged settled, and the market becomes settled. Either all of
// it happens or none of it does.
//
// A settled market yields ErrAlreadySettled, an open one ErrMarketNotClosed
// and a tie ErrTiedScore; in each case nothing is written.
func (e *Engine) SettleMarket(ctx context.Context, marketID string, score [2]int) ([]domain.Payout, error) {
	var payouts []domain.Payout
	now := e.now()
	err := e.store.WithMarket(ctx, marketID, func(tx domain.Tx) error {
		m, err := tx.Market(ctx)
		if err != nil {
			return err
		}
		switch m.Status {
		case domain.MarketStatusSettled:
			return domain.ErrAlreadySettled
		case domain.MarketStatusOpen:
			return domain.ErrMarketNotClosed
		}
		winner, err := Winner(m.Outcomes, score)
		if err != nil {
			return err
		}

		positions, err := tx.ListPositions(ctx)
		if err != nil {
			return err
		}
		sort.Slice(positions, func(a, b int) bool {
			if positions[a].UserID != positions[b].UserID {
				return positions[a].UserID < positions[b].UserID
			}
			return positions[a].Outcome < positions[b].Outcome
		})

		var winners []string
		for _, p := range positions {
			if p.Outcome == winner && !p.Settled {
				winners = append(winners, p.UserID)
			}
		}
		if len(winners) > 0 {
			if err := tx.LockUsers(ctx, winners...); err != nil {
				return err
			}
		}

		payouts = make([]domain.Payout, 0, len(positions))
		var total float64
		for _, p := range positions {
			if p.Settled {
				continue
			}
			var amount float64
			if p.Outcome == winner {
				amount = p.Shares * domain.PayoutPerShare
				u, err := tx.GetUser(ctx, p.UserID)
				if err != nil {
					return fmt.Errorf("user %s: %w", p.UserID, err)
				}
				u.Balance += amount
				u.UpdatedAt = now
				if err := tx.PutUser(ctx, u); err != nil {
					return err
				}
			}
			p.Settled = true
			p.Payout = amount
			p.SettledAt = &now
			p.UpdatedAt = now
			if err := tx.PutPosition(ctx, p); err != nil {
				return err
			}
			total += amount
			payouts = append(payouts, domain.Payout{
				UserID:   p.UserID,
				MarketID: m.ID,
				Outcome:  p.Outcome,
				Shares:   p.Shares,
				Amount:   amount,
			})
		}

		s := score
		m.FinalScore = &s
		m.WinningOutcome = winner
		if err := transition(&m, domain.MarketStatusSettled, now); err != nil {
			return err
		}
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		return tx.PutSettlement(ctx, domain.Settlement{
			MarketID:       m.ID,
			WinningOutcome: winner,
			FinalScore:     score,
			Payouts:        payouts,
			TotalPaid:      total,
			SettledAt:      now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("exchange: settle %s: %w", marketID, err)
	}
	return payouts, nil
}
