package sqlite

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

type marketRow struct {
	ID             string `gorm:"primaryKey"`
	GameID         string `gorm:"index"`
	Title          string
	Sport          string
	Outcome1       string    `gorm:"not null"`
	Outcome2       string    `gorm:"not null"`
	Shares1        float64   `gorm:"not null;default:0"`
	Shares2        float64   `gorm:"not null;default:0"`
	Liquidity      float64   `gorm:"not null"`
	Status         string    `gorm:"not null;index:idx_markets_status_starts"`
	StartsAt       time.Time `gorm:"not null;index:idx_markets_status_starts"`
	Score1         *int
	Score2         *int
	WinningOutcome string
	Volume         float64
	ClosedAt       *time.Time
	SettledAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (marketRow) TableName() string { return "markets" }

func toMarketRow(m domain.Market) marketRow {
	r := marketRow{
		ID: m.ID, GameID: m.GameID, Title: m.Title, Sport: m.Sport,
		Outcome1: m.Outcomes[0], Outcome2: m.Outcomes[1],
		Shares1: m.Shares[0], Shares2: m.Shares[1],
		Liquidity: m.Liquidity, Status: string(m.Status), StartsAt: m.StartsAt,
		WinningOutcome: m.WinningOutcome, Volume: m.Volume,
		ClosedAt: m.ClosedAt, SettledAt: m.SettledAt,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
	if m.FinalScore != nil {
		s1, s2 := m.FinalScore[0], m.FinalScore[1]
		r.Score1, r.Score2 = &s1, &s2
	}
	return r
}

func (r marketRow) toDomain() domain.Market {
	m := domain.Market{
		ID: r.ID, GameID: r.GameID, Title: r.Title, Sport: r.Sport,
		Outcomes:  [2]string{r.Outcome1, r.Outcome2},
		Shares:    [2]float64{r.Shares1, r.Shares2},
		Liquidity: r.Liquidity, Status: domain.MarketStatus(r.Status), StartsAt: r.StartsAt,
		WinningOutcome: r.WinningOutcome, Volume: r.Volume,
		ClosedAt: r.ClosedAt, SettledAt: r.SettledAt,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.Score1 != nil && r.Score2 != nil {
		m.FinalScore = &[2]int{*r.Score1, *r.Score2}
	}
	return m
}

type userRow struct {
	ID        string  `gorm:"primaryKey"`
	Balance   float64 `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (userRow) TableName() string { return "users" }

func (r userRow) toDomain() domain.User {
	return domain.User{ID: r.ID, Balance: r.Balance, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

type positionRow struct {
	UserID    string  `gorm:"primaryKey"`
	MarketID  string  `gorm:"primaryKey;index"`
	Outcome   string  `gorm:"primaryKey"`
	Shares    float64 `gorm:"not null"`
	CostBasis float64
	Settled   bool
	Payout    float64
	SettledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (positionRow) TableName() string { return "positions" }

func toPositionRow(p domain.Position) positionRow {
	return positionRow{
		UserID: p.UserID, MarketID: p.MarketID, Outcome: p.Outcome,
		Shares: p.Shares, CostBasis: p.CostBasis, Settled: p.Settled, Payout: p.Payout,
		SettledAt: p.SettledAt, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	}
}

func (r positionRow) toDomain() domain.Position {
	return domain.Position{
		UserID: r.UserID, MarketID: r.MarketID, Outcome: r.Outcome,
		Shares: r.Shares, CostBasis: r.CostBasis, Settled: r.Settled, Payout: r.Payout,
		SettledAt: r.SettledAt, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

type settlementRow struct {
	MarketID       string `gorm:"primaryKey"`
	WinningOutcome string `gorm:"not null"`
	Score1         int
	Score2         int
	Payouts        string `gorm:"type:text"`
	TotalPaid      float64
	SettledAt      time.Time `gorm:"index"`
	Archived       bool      `gorm:"not null;default:false"`
}

func (settlementRow) TableName() string { return "settlements" }

func toSettlementRow(s domain.Settlement) (settlementRow, error) {
	payouts, err := json.Marshal(s.Payouts)
	if err != nil {
		return settlementRow{}, err
	}
	return settlementRow{
		MarketID: s.MarketID, WinningOutcome: s.WinningOutcome,
		Score1: s.FinalScore[0], Score2: s.FinalScore[1],
		Payouts: string(payouts), TotalPaid: s.TotalPaid, SettledAt: s.SettledAt,
	}, nil
}

func (r settlementRow) toDomain() (domain.Settlement, error) {
	s := domain.Settlement{
		MarketID: r.MarketID, WinningOutcome: r.WinningOutcome,
		FinalScore: [2]int{r.Score1, r.Score2},
		TotalPaid:  r.TotalPaid, SettledAt: r.SettledAt,
	}
	if err := json.Unmarshal([]byte(r.Payouts), &s.Payouts); err != nil {
		return domain.Settlement{}, err
	}
	return s, nil
}

type auditRow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Event     string    `gorm:"not null"`
	Detail    string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (auditRow) TableName() string { return "audit_log" }
