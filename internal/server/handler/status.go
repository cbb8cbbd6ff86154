package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// MarketCounter reports per-status market totals.
type MarketCounter interface {
	CountMarkets(ctx context.Context) (domain.MarketCounts, error)
}

// StatusHandler serves the run mode and market totals.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	counter   MarketCounter
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, counter MarketCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, counter: counter, logger: logger}
}

// GetStatus responds with the run mode, uptime and market counts.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.counter.CountMarkets(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "count markets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":            h.mode,
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"open_markets":    counts.Open,
		"closed_markets":  counts.Closed,
		"settled_markets": counts.Settled,
	})
}
