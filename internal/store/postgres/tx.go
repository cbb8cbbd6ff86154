package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

var errUserNotLocked = errors.New("user not locked in transaction")

// tx writes straight through the database transaction; rollback discards
// everything.
type tx struct {
	q      querier
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

func (t *tx) PutMarket(ctx context.Context, m domain.Market) error {
	if m.ID != t.orig.ID {
		return fmt.Errorf("postgres: put market %s in transaction of %s", m.ID, t.orig.ID)
	}
	if !t.orig.Status.CanTransition(m.Status) {
		return fmt.Errorf("postgres: market %s %s -> %s: %w", m.ID, t.orig.Status, m.Status, domain.ErrInvalidTransition)
	}
	for i := range m.Shares {
		if m.Shares[i] < t.orig.Shares[i] {
			return fmt.Errorf("postgres: market %s shares of %s decreased", m.ID, m.Outcomes[i])
		}
	}

	score1, score2 := scoreArgs(m)
	const query = `UPDATE markets SET
		title = $2, sport = $3, shares_1 = $4, shares_2 = $5, status = $6,
		score_1 = $7, score_2 = $8, winning_outcome = $9, volume = $10,
		closed_at = $11, settled_at = $12, updated_at = $13
		WHERE id = $1`
	_, err := t.q.Exec(ctx, query,
		m.ID, m.Title, m.Sport, m.Shares[0], m.Shares[1], string(m.Status),
		score1, score2, m.WinningOutcome, m.Volume,
		m.ClosedAt, m.SettledAt, m.UpdatedAt,
	)
	if isCheckViolation(err) {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	t.cur = m
	return nil
}

func (t *tx) LockUsers(ctx context.Context, ids ...string) error {
	if t.locked != nil {
		return fmt.Errorf("postgres: users already locked in this transaction")
	}
	seen := make(map[string]bool, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)

	// ORDER BY makes every transaction take row locks in the same order.
	rows, err := t.q.Query(ctx, `SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE`, uniq)
	if err != nil {
		return fmt.Errorf("postgres: lock users: %w", err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: lock users: %w", err)
	}
	t.locked = seen
	return nil
}

func (t *tx) GetUser(ctx context.Context, id string) (domain.User, error) {
	if !t.locked[id] {
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, errUserNotLocked)
	}
	return getUser(ctx, t.q, id)
}

func (t *tx) PutUser(ctx context.Context, u domain.User) error {
	if !t.locked[u.ID] {
		return fmt.Errorf("postgres: put user %s: %w", u.ID, errUserNotLocked)
	}
	if u.Balance < 0 {
		return fmt.Errorf("postgres: user %s balance %v: %w", u.ID, u.Balance, domain.ErrInsufficientBalance)
	}
	tag, err := t.q.Exec(ctx, `UPDATE users SET balance = $2, updated_at = $3 WHERE id = $1`,
		u.ID, u.Balance, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update user %s: %w", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: user %s: %w", u.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *tx) GetPosition(ctx context.Context, userID, outcome string) (domain.Position, error) {
	p, err := scanPosition(t.q.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 AND market_id = $2 AND outcome = $3`,
		userID, t.orig.ID, outcome))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s/%s/%s: %w", userID, t.orig.ID, outcome, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

func (t *tx) PutPosition(ctx context.Context, p domain.Position) error {
	if p.MarketID != t.orig.ID {
		return fmt.Errorf("postgres: put position of %s in transaction of %s", p.MarketID, t.orig.ID)
	}
	if _, ok := t.orig.OutcomeIndex(p.Outcome); !ok {
		return fmt.Errorf("postgres: position outcome %q: %w", p.Outcome, domain.ErrInvalidOutcome)
	}
	const query = `INSERT INTO positions (` + positionCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (user_id, market_id, outcome) DO UPDATE SET
			shares = EXCLUDED.shares,
			cost_basis = EXCLUDED.cost_basis,
			settled = EXCLUDED.settled,
			payout = EXCLUDED.payout,
			settled_at = EXCLUDED.settled_at,
			updated_at = EXCLUDED.updated_at`
	_, err := t.q.Exec(ctx, query,
		p.UserID, p.MarketID, p.Outcome, p.Shares, p.CostBasis,
		p.Settled, p.Payout, p.SettledAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s/%s: %w", p.UserID, p.MarketID, p.Outcome, err)
	}
	return nil
}

func (t *tx) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 ORDER BY user_id, outcome`, t.orig.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", t.orig.ID, err)
	}
	out, err := collect(rows, scanPosition)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return out, nil
}

func (t *tx) PutSettlement(ctx context.Context, s domain.Settlement) error {
	if s.MarketID != t.orig.ID {
		return fmt.Errorf("postgres: put settlement of %s in transaction of %s", s.MarketID, t.orig.ID)
	}
	payouts, err := json.Marshal(s.Payouts)
	if err != nil {
		return fmt.Errorf("postgres: marshal payouts of %s: %w", s.MarketID, err)
	}
	_, err = t.q.Exec(ctx,
		`INSERT INTO settlements (market_id, winning_outcome, score_1, score_2, payouts, total_paid, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.MarketID, s.WinningOutcome, s.FinalScore[0], s.FinalScore[1], payouts, s.TotalPaid, s.SettledAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: settlement %s: %w", s.MarketID, domain.ErrAlreadySettled)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", s.MarketID, err)
	}
	return nil
}

var _ domain.Tx = (*tx)(nil)
