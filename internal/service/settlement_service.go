package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
	"github.com/alanyoungcy/polyjacket/internal/notify"
)

// SettlementService settles closed markets and publishes the results.
type SettlementService struct {
	engine   *exchange.Engine
	cache    domain.MarketCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// NewSettlementService creates a SettlementService with all required dependencies.
func NewSettlementService(
	engine *exchange.Engine,
	cache domain.MarketCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		engine:   engine,
		cache:    cache,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "settlement_service")),
	}
}

// Settle resolves a closed market against score.
func (s *SettlementService) Settle(ctx context.Context, marketID string, score [2]int) ([]domain.Payout, error) {
	payouts, err := s.engine.SettleMarket(ctx, marketID, score)
	if err != nil {
		if !errors.Is(err, domain.ErrAlreadySettled) {
			s.logger.WarnContext(ctx, "settlement rejected",
				slog.String("market_id", marketID),
				slog.Any("score", score),
				slog.String("error", err.Error()),
			)
		}
		return nil, fmt.Errorf("settlement_service: %w", err)
	}
	invalidate(ctx, s.cache, s.logger, marketID)

	m, err := s.engine.GetMarket(ctx, marketID)
	if err != nil {
		// settlement committed; only the event details are missing
		s.logger.WarnContext(ctx, "reload settled market failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	var total float64
	for _, p := range payouts {
		total += p.Amount
	}
	evt := domain.SettlementEvent{
		Event:          "market_settled",
		MarketID:       marketID,
		WinningOutcome: m.WinningOutcome,
		FinalScore:     score,
		Positions:      len(payouts),
		TotalPaid:      total,
	}
	if m.SettledAt != nil {
		evt.SettledAt = *m.SettledAt
	}
	publish(ctx, s.bus, s.logger, domain.ChannelSettlements, evt)
	s.appendHistory(ctx, evt)

	auditLog(ctx, s.audit, s.logger, "market.settled", map[string]any{
		"market_id":       marketID,
		"winning_outcome": m.WinningOutcome,
		"positions":       len(payouts),
		"total_paid":      total,
	})
	if nerr := s.notifier.Notifyf(ctx, notify.EventMarketSettled, "Market settled",
		"%s (%s): %s won %d-%d, %d positions, %.2f tokens paid",
		m.Title, marketID, m.WinningOutcome, score[0], score[1], len(payouts), total); nerr != nil {
		s.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
	}
	s.logger.InfoContext(ctx, "market settled",
		slog.String("market_id", marketID),
		slog.String("winning_outcome", m.WinningOutcome),
		slog.Int("positions", len(payouts)),
		slog.Float64("total_paid", total),
	)
	return payouts, nil
}

// SweepSettlements settles every closed market that has a recorded score
// and returns how many settled. Ties stay closed and raise an alert.
func (s *SettlementService) SweepSettlements(ctx context.Context) (int, error) {
	closed, err := s.engine.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusClosed})
	if err != nil {
		return 0, fmt.Errorf("settlement_service: sweep: %w", err)
	}
	var (
		settled int
		errs    []error
	)
	for _, m := range closed {
		if m.FinalScore == nil {
			continue
		}
		_, err := s.Settle(ctx, m.ID, *m.FinalScore)
		switch {
		case err == nil:
			settled++
		case errors.Is(err, domain.ErrAlreadySettled):
		case errors.Is(err, domain.ErrTiedScore):
			if nerr := s.notifier.Notifyf(ctx, notify.EventSettlementFailed, "Tied score",
				"%s (%s) ended %d-%d and needs manual resolution", m.Title, m.ID, m.FinalScore[0], m.FinalScore[1]); nerr != nil {
				s.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
			}
		default:
			errs = append(errs, err)
			if nerr := s.notifier.Notifyf(ctx, notify.EventSettlementFailed, "Settlement failed",
				"%s (%s): %v", m.Title, m.ID, err); nerr != nil {
				s.logger.WarnContext(ctx, "notify failed", slog.String("error", nerr.Error()))
			}
		}
	}
	return settled, errors.Join(errs...)
}

// History returns settlement events recorded after lastID, oldest first.
// Pass "0" to read from the beginning.
func (s *SettlementService) History(ctx context.Context, lastID string, count int) ([]domain.SettlementEvent, string, error) {
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := s.bus.StreamRead(ctx, StreamSettlements, lastID, count)
	if err != nil {
		return nil, lastID, fmt.Errorf("settlement_service: history: %w", err)
	}
	out := make([]domain.SettlementEvent, 0, len(msgs))
	next := lastID
	for _, msg := range msgs {
		next = msg.ID
		var evt domain.SettlementEvent
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			s.logger.WarnContext(ctx, "skip malformed history entry",
				slog.String("id", msg.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, evt)
	}
	return out, next, nil
}

func (s *SettlementService) appendHistory(ctx context.Context, evt domain.SettlementEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.bus.StreamAppend(ctx, StreamSettlements, data); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("market_id", evt.MarketID),
			slog.String("error", err.Error()),
		)
	}
}
