package domain

import "time"

// TradeEvent is published on ChannelTrades after a trade commits.
type TradeEvent struct {
	Event      string     `json:"event"`
	MarketID   string     `json:"market_id"`
	Outcome    string     `json:"outcome"`
	Shares     float64    `json:"shares"`
	Amount     float64    `json:"amount"`
	Prices     [2]float64 `json:"prices"`
	Outcomes   [2]string  `json:"outcomes"`
	ExecutedAt time.Time  `json:"executed_at"`
}

// MarketEvent is published on ChannelMarkets when a market is created or
// changes status.
type MarketEvent struct {
	Event    string       `json:"event"`
	MarketID string       `json:"market_id"`
	Status   MarketStatus `json:"status"`
	Prices   [2]float64   `json:"prices"`
	At       time.Time    `json:"at"`
}

// SettlementEvent is published on ChannelSettlements after settlement.
type SettlementEvent struct {
	Event          string    `json:"event"`
	MarketID       string    `json:"market_id"`
	WinningOutcome string    `json:"winning_outcome"`
	FinalScore     [2]int    `json:"final_score"`
	Positions      int       `json:"positions"`
	TotalPaid      float64   `json:"total_paid"`
	SettledAt      time.Time `json:"settled_at"`
}
