package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
	"github.com/alanyoungcy/polyjacket/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) (service.MarketList, error)
}

// PriceService answers price and quote queries.
type PriceService interface {
	GetPrices(ctx context.Context, marketID string) ([2]service.OutcomePrice, error)
	Quote(ctx context.Context, marketID, outcome string, amount float64) (lmsr.Quote, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	prices  PriceService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, prices PriceService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		prices:  prices,
		logger:  logger,
	}
}

type listMarketsResponse struct {
	Success        bool             `json:"success"`
	TotalMarkets   int64            `json:"total_markets"`
	OpenMarkets    int64            `json:"open_markets"`
	ClosedMarkets  int64            `json:"closed_markets"`
	SettledMarkets int64            `json:"settled_markets"`
	Markets        []marketResponse `json:"markets"`
	Limit          int              `json:"limit"`
	Offset         int              `json:"offset"`
}

// ListMarkets returns markets with the per-status totals.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	f := domain.MarketFilter{ListOpts: parseListOpts(r)}
	if s := r.URL.Query().Get("status"); s != "" {
		f.Status = domain.MarketStatus(s)
		if !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, "status must be open, closed or settled")
			return
		}
	}

	list, err := h.markets.ListMarkets(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	out := make([]marketResponse, 0, len(list.Markets))
	for _, m := range list.Markets {
		out = append(out, toMarketResponse(m))
	}
	c := list.Counts
	writeJSON(w, http.StatusOK, listMarketsResponse{
		Success:        true,
		TotalMarkets:   c.Open + c.Closed + c.Settled,
		OpenMarkets:    c.Open,
		ClosedMarkets:  c.Closed,
		SettledMarkets: c.Settled,
		Markets:        out,
		Limit:          f.Limit,
		Offset:         f.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

// GetPrices returns the current price of both outcomes.
// GET /api/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ps, err := h.prices.GetPrices(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get prices", err)
		return
	}
	prices := make(map[string]float64, len(ps))
	for _, p := range ps {
		prices[p.Outcome] = round4(p.Price)
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "prices": prices})
}

type quoteResponse struct {
	MarketID        string  `json:"market_id"`
	Outcome         string  `json:"outcome"`
	Amount          float64 `json:"amount"`
	Shares          float64 `json:"shares"`
	PricePerShare   float64 `json:"price_per_share"`
	PriceBefore     float64 `json:"price_before"`
	PriceAfter      float64 `json:"price_after"`
	PotentialReturn float64 `json:"potential_return"`
}

// Quote previews a purchase without executing it.
// GET /api/markets/{id}/quote?outcome=home&amount=50
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcome := r.URL.Query().Get("outcome")
	amount, err := strconv.ParseFloat(r.URL.Query().Get("amount"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a positive number")
		return
	}

	q, err := h.prices.Quote(r.Context(), id, outcome, amount)
	if err != nil {
		writeServiceError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		MarketID:        id,
		Outcome:         outcome,
		Amount:          round2(q.Amount),
		Shares:          round2(q.Shares),
		PricePerShare:   round4(q.AveragePrice),
		PriceBefore:     round4(q.PriceBefore),
		PriceAfter:      round4(q.PriceAfter),
		PotentialReturn: round2(q.PotentialPayout),
	})
}
