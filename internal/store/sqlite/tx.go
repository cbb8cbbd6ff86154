package sqlite

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

var errUserNotLocked = errors.New("user not locked in transaction")

type tx struct {
	db     *gorm.DB
	orig   domain.Market
	cur    domain.Market
	locked map[string]bool
}

func (t *tx) Market(_ context.Context) (domain.Market, error) {
	m := t.cur
	if m.FinalScore != nil {
		sc := *m.FinalScore
		m.FinalScore = &sc
	}
	return m, nil
}

func (t *tx) PutMarket(_ context.Context, m domain.Market) error {
	if m.ID != t.orig.ID {
		return fmt.Errorf("sqlite: put market %s in transaction of %s", m.ID, t.orig.ID)
	}
	if !t.orig.Status.CanTransition(m.Status) {
		return fmt.Errorf("sqlite: market %s %s -> %s: %w", m.ID, t.orig.Status, m.Status, domain.ErrInvalidTransition)
	}
	for i := range m.Shares {
		if m.Shares[i] < t.orig.Shares[i] {
			return fmt.Errorf("sqlite: market %s shares of %s decreased", m.ID, m.Outcomes[i])
		}
	}
	row := toMarketRow(m)
	if err := t.db.Model(&row).Select("*").Omit("created_at").Updates(row).Error; err != nil {
		return fmt.Errorf("sqlite: update market %s: %w", m.ID, err)
	}
	t.cur = m
	return nil
}

// LockUsers only records the ids: the single connection already serializes
// transactions.
func (t *tx) LockUsers(_ context.Context, ids ...string) error {
	if t.locked != nil {
		return fmt.Errorf("sqlite: users already locked in this transaction")
	}
	t.locked = make(map[string]bool, len(ids))
	for _, id := range ids {
		t.locked[id] = true
	}
	return nil
}

func (t *tx) GetUser(_ context.Context, id string) (domain.User, error) {
	if !t.locked[id] {
		return domain.User{}, fmt.Errorf("sqlite: get user %s: %w", id, errUserNotLocked)
	}
	return getUser(t.db, id)
}

func (t *tx) PutUser(_ context.Context, u domain.User) error {
	if !t.locked[u.ID] {
		return fmt.Errorf("sqlite: put user %s: %w", u.ID, errUserNotLocked)
	}
	if u.Balance < 0 {
		return fmt.Errorf("sqlite: user %s balance %v: %w", u.ID, u.Balance, domain.ErrInsufficientBalance)
	}
	res := t.db.Model(&userRow{}).Where("id = ?", u.ID).
		Updates(map[string]any{"balance": u.Balance, "updated_at": u.UpdatedAt})
	if res.Error != nil {
		return fmt.Errorf("sqlite: update user %s: %w", u.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sqlite: user %s: %w", u.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) GetPosition(_ context.Context, userID, outcome string) (domain.Position, error) {
	var row positionRow
	err := t.db.Where("user_id = ? AND market_id = ? AND outcome = ?", userID, t.orig.ID, outcome).Take(&row).Error
	if notFound(err) {
		return domain.Position{}, fmt.Errorf("sqlite: position %s/%s/%s: %w", userID, t.orig.ID, outcome, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("sqlite: get position: %w", err)
	}
	return row.toDomain(), nil
}

func (t *tx) PutPosition(_ context.Context, p domain.Position) error {
	if p.MarketID != t.orig.ID {
		return fmt.Errorf("sqlite: put position of %s in transaction of %s", p.MarketID, t.orig.ID)
	}
	if _, ok := t.orig.OutcomeIndex(p.Outcome); !ok {
		return fmt.Errorf("sqlite: position outcome %q: %w", p.Outcome, domain.ErrInvalidOutcome)
	}
	row := toPositionRow(p)
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "market_id"}, {Name: "outcome"}},
		DoUpdates: clause.AssignmentColumns([]string{"shares", "cost_basis", "settled", "payout", "settled_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("sqlite: upsert position %s/%s/%s: %w", p.UserID, p.MarketID, p.Outcome, err)
	}
	return nil
}

func (t *tx) ListPositions(_ context.Context) ([]domain.Position, error) {
	var rows []positionRow
	if err := t.db.Where("market_id = ?", t.orig.ID).Order("user_id, outcome").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list positions of %s: %w", t.orig.ID, err)
	}
	out := make([]domain.Position, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (t *tx) PutSettlement(_ context.Context, s domain.Settlement) error {
	if s.MarketID != t.orig.ID {
		return fmt.Errorf("sqlite: put settlement of %s in transaction of %s", s.MarketID, t.orig.ID)
	}
	var n int64
	if err := t.db.Model(&settlementRow{}).Where("market_id = ?", s.MarketID).Count(&n).Error; err != nil {
		return fmt.Errorf("sqlite: check settlement %s: %w", s.MarketID, err)
	}
	if n > 0 {
		return fmt.Errorf("sqlite: settlement %s: %w", s.MarketID, domain.ErrAlreadySettled)
	}
	row, err := toSettlementRow(s)
	if err != nil {
		return fmt.Errorf("sqlite: encode settlement %s: %w", s.MarketID, err)
	}
	if err := t.db.Create(&row).Error; err != nil {
		return fmt.Errorf("sqlite: insert settlement %s: %w", s.MarketID, err)
	}
	return nil
}

var _ domain.Tx = (*tx)(nil)
