package domain

import "time"

// Payout is the amount credited to one position at settlement. Losing
// positions appear with a zero amount.
type Payout struct {
	UserID   string  `json:"user_id"`
	MarketID string  `json:"market_id"`
	Outcome  string  `json:"outcome"`
	Shares   float64 `json:"shares"`
	Amount   float64 `json:"amount"`
}

// Settlement is the ledger entry written when a market settles.
type Settlement struct {
	MarketID       string    `json:"market_id"`
	WinningOutcome string    `json:"winning_outcome"`
	FinalScore     [2]int    `json:"final_score"`
	Payouts        []Payout  `json:"payouts"`
	TotalPaid      float64   `json:"total_paid"`
	SettledAt      time.Time `json:"settled_at"`
}

// TradeResult reports the outcome of an executed trade.
type TradeResult struct {
	MarketID     string
	UserID       string
	Outcome      string
	Shares       float64
	Amount       float64
	AveragePrice float64
	NewPrice     float64
	Prices       [2]float64
	Balance      float64
	Position     Position
	ExecutedAt   time.Time
}
