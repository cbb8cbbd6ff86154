package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/polyjacket/internal/server/middleware"
	"github.com/alanyoungcy/polyjacket/internal/service"
)

// PortfolioService builds a user's portfolio.
type PortfolioService interface {
	Portfolio(ctx context.Context, userID string) (service.Portfolio, error)
}

// PositionHandler serves the caller's portfolio.
type PositionHandler struct {
	positions PortfolioService
	users     UserResolver
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given services and logger.
func NewPositionHandler(positions PortfolioService, users UserResolver, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		users:     users,
		logger:    logger,
	}
}

type portfolioResponse struct {
	UserID           string             `json:"user_id"`
	Balance          float64            `json:"balance"`
	TotalValue       float64            `json:"total_value"`
	OpenPositions    []positionResponse `json:"open_positions"`
	SettledPositions []positionResponse `json:"settled_positions"`
}

// GetPortfolio returns the caller's balance and positions.
// GET /api/portfolio
func (h *PositionHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if _, err := h.users.GetOrCreate(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, "resolve user", err)
		return
	}
	p, err := h.positions.Portfolio(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, portfolioResponse{
		UserID:           p.UserID,
		Balance:          round2(p.Balance),
		TotalValue:       round2(p.TotalValue),
		OpenPositions:    toPositionResponses(p.Open),
		SettledPositions: toPositionResponses(p.Settled),
	})
}
