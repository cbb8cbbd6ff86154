package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/scheduler"
)

// MarketAdmin creates markets and records scores.
type MarketAdmin interface {
	CreateMarket(ctx context.Context, nm domain.NewMarket) (domain.Market, error)
	RecordScore(ctx context.Context, id string, score [2]int) (domain.Market, error)
}

// Settler settles a closed market.
type Settler interface {
	Settle(ctx context.Context, marketID string, score [2]int) ([]domain.Payout, error)
}

// JobRunner runs scheduler jobs on demand.
type JobRunner interface {
	Sweep(ctx context.Context) (scheduler.SweepReport, error)
	Ingest(ctx context.Context) (scheduler.IngestReport, error)
}

// AdminHandler serves the operator endpoints. Every route is behind the
// admin API key.
type AdminHandler struct {
	markets MarketAdmin
	settler Settler
	jobs    JobRunner
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(markets MarketAdmin, settler Settler, jobs JobRunner, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{markets: markets, settler: settler, jobs: jobs, logger: logger}
}

type createMarketRequest struct {
	MarketID  string    `json:"market_id" validate:"omitempty,max=128"`
	GameID    string    `json:"game_id" validate:"required,max=128"`
	Title     string    `json:"title" validate:"required,max=256"`
	Sport     string    `json:"sport" validate:"max=64"`
	Outcomes  [2]string `json:"outcomes"`
	Liquidity float64   `json:"liquidity" validate:"gt=0"`
	StartsAt  time.Time `json:"starts_at" validate:"required"`
}

// CreateMarket opens a market by hand.
// POST /api/admin/markets
func (h *AdminHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.MarketID
	if id == "" {
		id = scheduler.MarketID(req.GameID)
	}
	m, err := h.markets.CreateMarket(r.Context(), domain.NewMarket{
		ID:        id,
		GameID:    req.GameID,
		Title:     req.Title,
		Sport:     req.Sport,
		Outcomes:  req.Outcomes,
		Liquidity: req.Liquidity,
		StartsAt:  req.StartsAt,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketResponse(m))
}

type scoreRequest struct {
	HomeScore *int `json:"home_score" validate:"required"`
	AwayScore *int `json:"away_score" validate:"required"`
}

func (s scoreRequest) score() [2]int { return [2]int{*s.HomeScore, *s.AwayScore} }

// RecordScore stores a final score without settling.
// POST /api/admin/markets/{id}/score
func (h *AdminHandler) RecordScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.markets.RecordScore(r.Context(), r.PathValue("id"), req.score())
	if err != nil {
		writeServiceError(w, r, h.logger, "record score", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// SettleMarket settles a closed market with the given score.
// POST /api/admin/markets/{id}/settle
func (h *AdminHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := r.PathValue("id")
	payouts, err := h.settler.Settle(r.Context(), id, req.score())
	if err != nil {
		writeServiceError(w, r, h.logger, "settle market", err)
		return
	}
	var total float64
	for _, p := range payouts {
		total += p.Amount
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":  id,
		"payouts":    payouts,
		"total_paid": round2(total),
	})
}

// Sweep runs one close-then-settle pass immediately.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.jobs.Sweep(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": rep.Closed, "settled": rep.Settled})
}

// RefreshGames re-reads the schedule feed immediately.
// POST /api/admin/games/refresh
func (h *AdminHandler) RefreshGames(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: games refresh requested")
	rep, err := h.jobs.Ingest(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh games", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fetched": rep.Fetched,
		"created": rep.Created,
		"scored":  rep.Scored,
		"skipped": rep.Skipped,
	})
}
