package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/platform/schedule"
	"github.com/alanyoungcy/polyjacket/internal/scheduler"
)

// GameLister exposes the games read by the last ingestion run.
type GameLister interface {
	Games() ([]schedule.Game, time.Time)
}

// SettlementHistory pages through past settlements.
type SettlementHistory interface {
	History(ctx context.Context, lastID string, count int) ([]domain.SettlementEvent, string, error)
}

// GamesHandler serves the game schedule and the settlement history.
type GamesHandler struct {
	games   GameLister
	history SettlementHistory
	logger  *slog.Logger
}

// NewGamesHandler creates a GamesHandler.
func NewGamesHandler(games GameLister, history SettlementHistory, logger *slog.Logger) *GamesHandler {
	return &GamesHandler{games: games, history: history, logger: logger}
}

type gameResponse struct {
	GameID    string     `json:"game_id"`
	MarketID  string     `json:"market_id"`
	Title     string     `json:"title"`
	HomeTeam  string     `json:"home_team"`
	AwayTeam  string     `json:"away_team"`
	Sport     string     `json:"sport"`
	League    string     `json:"league,omitempty"`
	Location  string     `json:"location,omitempty"`
	StartsAt  *time.Time `json:"starts_at"`
	Status    string     `json:"status"`
	HomeScore *int       `json:"home_score"`
	AwayScore *int       `json:"away_score"`
}

// ListGames returns the games in the ingestion window.
// GET /api/games
func (h *GamesHandler) ListGames(w http.ResponseWriter, r *http.Request) {
	games, fetchedAt := h.games.Games()
	out := make([]gameResponse, 0, len(games))
	for _, g := range games {
		gr := gameResponse{
			GameID:   g.ID,
			MarketID: scheduler.MarketID(g.ID),
			Title:    g.Title(),
			HomeTeam: g.HomeTeam,
			AwayTeam: g.AwayTeam,
			Sport:    g.Sport,
			League:   g.League,
			Location: g.Location,
			Status:   g.Status,
		}
		if !g.StartsAt.IsZero() {
			t := g.StartsAt
			gr.StartsAt = &t
		}
		if s, ok := g.Score(); ok {
			gr.HomeScore, gr.AwayScore = &s[0], &s[1]
		}
		out = append(out, gr)
	}
	resp := map[string]any{"games": out, "count": len(out)}
	if !fetchedAt.IsZero() {
		resp["fetched_at"] = fetchedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSettlements pages through settlement events, oldest first.
// GET /api/settlements?after=<id>&count=50
func (h *GamesHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	count := 50
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 500)
	}
	events, next, err := h.history.History(r.Context(), r.URL.Query().Get("after"), count)
	if err != nil {
		writeServiceError(w, r, h.logger, "settlement history", err)
		return
	}
	if events == nil {
		events = []domain.SettlementEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": events, "next": next})
}
