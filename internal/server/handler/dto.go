package handler

import (
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
	"github.com/alanyoungcy/polyjacket/internal/service"
)

type marketResponse struct {
	ID             string              `json:"market_id"`
	GameID         string              `json:"game_id"`
	Title          string              `json:"title"`
	Sport          string              `json:"sport"`
	Outcomes       [2]string           `json:"outcomes"`
	Shares         [2]float64          `json:"shares"`
	Prices         [2]float64          `json:"prices"`
	Liquidity      float64             `json:"liquidity"`
	MaxLoss        float64             `json:"max_loss"`
	Status         domain.MarketStatus `json:"status"`
	StartsAt       time.Time           `json:"starts_at"`
	FinalScore     *[2]int             `json:"final_score,omitempty"`
	WinningOutcome string              `json:"winning_outcome,omitempty"`
	Volume         float64             `json:"total_volume"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"`
	SettledAt      *time.Time          `json:"settled_at,omitempty"`
}

func toMarketResponse(m domain.Market) marketResponse {
	p := lmsr.Prices(m.Shares, m.Liquidity)
	return marketResponse{
		ID:             m.ID,
		GameID:         m.GameID,
		Title:          m.Title,
		Sport:          m.Sport,
		Outcomes:       m.Outcomes,
		Shares:         [2]float64{round2(m.Shares[0]), round2(m.Shares[1])},
		Prices:         [2]float64{round4(p[0]), round4(p[1])},
		Liquidity:      m.Liquidity,
		MaxLoss:        round2(lmsr.MaxLoss(m.Liquidity)),
		Status:         m.Status,
		StartsAt:       m.StartsAt,
		FinalScore:     m.FinalScore,
		WinningOutcome: m.WinningOutcome,
		Volume:         round2(m.Volume),
		ClosedAt:       m.ClosedAt,
		SettledAt:      m.SettledAt,
	}
}

type userResponse struct {
	UserID    string    `json:"user_id"`
	Balance   float64   `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{UserID: u.ID, Balance: round2(u.Balance), CreatedAt: u.CreatedAt}
}

type positionResponse struct {
	MarketID        string              `json:"market_id"`
	Game            string              `json:"game"`
	Status          domain.MarketStatus `json:"status"`
	Outcome         string              `json:"outcome"`
	Shares          float64             `json:"shares"`
	CostBasis       float64             `json:"cost_basis"`
	AveragePrice    float64             `json:"avg_price"`
	CurrentValue    float64             `json:"current_value"`
	PotentialReturn float64             `json:"potential_return"`
	Payout          float64             `json:"payout,omitempty"`
}

func toPositionResponse(v service.PositionView) positionResponse {
	return positionResponse{
		MarketID:        v.MarketID,
		Game:            v.Title,
		Status:          v.Status,
		Outcome:         v.Outcome,
		Shares:          round2(v.Shares),
		CostBasis:       round2(v.CostBasis),
		AveragePrice:    round4(v.AveragePrice()),
		CurrentValue:    round2(v.CurrentValue),
		PotentialReturn: round2(v.PotentialReturn),
		Payout:          round2(v.Payout),
	}
}

func toPositionResponses(vs []service.PositionView) []positionResponse {
	out := make([]positionResponse, 0, len(vs))
	for _, v := range vs {
		out = append(out, toPositionResponse(v))
	}
	return out
}
