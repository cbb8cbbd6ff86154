package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen    MarketStatus = "open"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// rank orders statuses along the only allowed direction of travel.
func (s MarketStatus) rank() int {
	switch s {
	case MarketStatusOpen:
		return 0
	case MarketStatusClosed:
		return 1
	case MarketStatusSettled:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s MarketStatus) Valid() bool { return s.rank() >= 0 }

// CanTransition reports whether a market may move from s to next. Only the
// single forward steps open->closed and closed->settled are allowed; staying
// in place is allowed so that writes which do not touch the status pass.
func (s MarketStatus) CanTransition(next MarketStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	d := next.rank() - s.rank()
	return d == 0 || d == 1
}

// DefaultOutcomes are the outcome labels used for ingested games.
var DefaultOutcomes = [2]string{"home", "away"}

// PayoutPerShare is the number of tokens a winning share redeems for.
const PayoutPerShare = 100.0

// Market is a binary outcome market priced by LMSR.
type Market struct {
	ID             string
	GameID         string
	Title          string
	Sport          string
	Outcomes       [2]string  // e.g. ["home","away"]
	Shares         [2]float64 // outstanding quantity per outcome
	Liquidity      float64    // LMSR b
	Status         MarketStatus
	StartsAt       time.Time
	FinalScore     *[2]int // aligned with Outcomes
	WinningOutcome string
	Volume         float64
	ClosedAt       *time.Time
	SettledAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OutcomeIndex returns the index of the outcome label within the market.
func (m Market) OutcomeIndex(outcome string) (int, bool) {
	for i, o := range m.Outcomes {
		if o == outcome {
			return i, true
		}
	}
	return 0, false
}

// NewMarket holds the caller-supplied fields for market creation.
type NewMarket struct {
	ID        string
	GameID    string
	Title     string
	Sport     string
	Outcomes  [2]string
	Liquidity float64
	StartsAt  time.Time
}

// MarketFilter narrows a market listing.
type MarketFilter struct {
	Status MarketStatus // empty means any
	ListOpts
}

// MarketCounts summarises how many markets are in each status.
type MarketCounts struct {
	Open    int64
	Closed  int64
	Settled int64
}
