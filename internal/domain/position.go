package domain

import "time"

// Position is a user's holding of one outcome in one market.
type Position struct {
	UserID    string
	MarketID  string
	Outcome   string
	Shares    float64
	CostBasis float64 // tokens spent
	Settled   bool
	Payout    float64
	SettledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AveragePrice is the mean tokens paid per share.
func (p Position) AveragePrice() float64 {
	if p.Shares <= 0 {
		return 0
	}
	return p.CostBasis / p.Shares
}

// PositionKey identifies a position.
type PositionKey struct {
	UserID   string
	MarketID string
	Outcome  string
}

// Key returns the identifying key of p.
func (p Position) Key() PositionKey {
	return PositionKey{UserID: p.UserID, MarketID: p.MarketID, Outcome: p.Outcome}
}
