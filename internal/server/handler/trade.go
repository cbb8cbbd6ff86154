package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/server/middleware"
)

// TradeService executes trades.
type TradeService interface {
	Execute(ctx context.Context, marketID, userID, outcome string, amount float64) (domain.TradeResult, error)
}

// UserResolver returns the user behind a request, creating it if needed.
type UserResolver interface {
	GetOrCreate(ctx context.Context, id string) (domain.User, error)
}

// TradeHandler serves the trade endpoint.
type TradeHandler struct {
	trades TradeService
	users  UserResolver
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, users UserResolver, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, users: users, logger: logger}
}

type tradeRequest struct {
	MarketID string  `json:"market_id" validate:"required,max=128"`
	Outcome  string  `json:"outcome" validate:"required,max=64"`
	Amount   float64 `json:"amount"`
}

type tradeResponse struct {
	Success         bool    `json:"success"`
	MarketID        string  `json:"market_id"`
	Outcome         string  `json:"outcome"`
	SharesPurchased float64 `json:"shares_purchased"`
	PricePerShare   float64 `json:"price_per_share"`
	TotalCost       float64 `json:"total_cost"`
	NewPrice        float64 `json:"new_price"`
	NewBalance      float64 `json:"new_balance"`
	PositionShares  float64 `json:"position_shares"`
	PotentialReturn float64 `json:"potential_return"`
	Message         string  `json:"message"`
}

// ExecuteTrade buys shares for the calling user.
// POST /api/trade
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := middleware.UserID(r.Context())
	if _, err := h.users.GetOrCreate(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, "resolve user", err)
		return
	}

	res, err := h.trades.Execute(r.Context(), req.MarketID, userID, req.Outcome, req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "execute trade", err)
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{
		Success:         true,
		MarketID:        res.MarketID,
		Outcome:         res.Outcome,
		SharesPurchased: round2(res.Shares),
		PricePerShare:   round4(res.AveragePrice),
		TotalCost:       round2(res.Amount),
		NewPrice:        round4(res.NewPrice),
		NewBalance:      round2(res.Balance),
		PositionShares:  round2(res.Position.Shares),
		PotentialReturn: round2(res.Position.Shares * domain.PayoutPerShare),
		Message:         fmt.Sprintf("Successfully purchased %.2f shares", res.Shares),
	})
}
