package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

const marketCols = `id, game_id, title, sport, outcome_1, outcome_2, shares_1, shares_2,
	liquidity, status, starts_at, score_1, score_2, winning_outcome, volume,
	closed_at, settled_at, created_at, updated_at`

const userCols = `id, balance, created_at, updated_at`

const positionCols = `user_id, market_id, outcome, shares, cost_basis, settled, payout,
	settled_at, created_at, updated_at`

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.Store. WithMarket maps onto a database
// transaction holding the market row lock.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m              domain.Market
		status         string
		score1, score2 *int
	)
	err := row.Scan(
		&m.ID, &m.GameID, &m.Title, &m.Sport, &m.Outcomes[0], &m.Outcomes[1],
		&m.Shares[0], &m.Shares[1], &m.Liquidity, &status, &m.StartsAt,
		&score1, &score2, &m.WinningOutcome, &m.Volume,
		&m.ClosedAt, &m.SettledAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if score1 != nil && score2 != nil {
		m.FinalScore = &[2]int{*score1, *score2}
	}
	return m, nil
}

func scoreArgs(m domain.Market) (any, any) {
	if m.FinalScore == nil {
		return nil, nil
	}
	return m.FinalScore[0], m.FinalScore[1]
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Balance, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.UserID, &p.MarketID, &p.Outcome, &p.Shares, &p.CostBasis,
		&p.Settled, &p.Payout, &p.SettledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateMarket inserts m.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	score1, score2 := scoreArgs(m)
	const query = `INSERT INTO markets (` + marketCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
	_, err := s.pool.Exec(ctx, query,
		m.ID, m.GameID, m.Title, m.Sport, m.Outcomes[0], m.Outcomes[1],
		m.Shares[0], m.Shares[1], m.Liquidity, string(m.Status), m.StartsAt,
		score1, score2, m.WinningOutcome, m.Volume,
		m.ClosedAt, m.SettledAt, m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// GetMarket returns the committed state of a market.
func (s *Store) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Market{}, fmt.Errorf("postgres: market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets ordered by start time, then id.
func (s *Store) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND starts_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND starts_at <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}
	query += " ORDER BY starts_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	out, err := collect(rows, scanMarket)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return out, nil
}

// CountMarkets returns the number of markets in each status.
func (s *Store) CountMarkets(ctx context.Context) (domain.MarketCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM markets GROUP BY status`)
	if err != nil {
		return domain.MarketCounts{}, fmt.Errorf("postgres: count markets: %w", err)
	}
	defer rows.Close()

	var c domain.MarketCounts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.MarketCounts{}, fmt.Errorf("postgres: scan market count: %w", err)
		}
		switch domain.MarketStatus(status) {
		case domain.MarketStatusOpen:
			c.Open = n
		case domain.MarketStatusClosed:
			c.Closed = n
		case domain.MarketStatusSettled:
			c.Settled = n
		}
	}
	return c, rows.Err()
}

// CreateUser inserts u.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	if u.Balance < 0 {
		return fmt.Errorf("postgres: user %s balance %v: %w", u.ID, u.Balance, domain.ErrInsufficientBalance)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userCols+`) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Balance, u.CreatedAt, u.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: user %s: %w", u.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: create user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns the committed state of a user.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, s.pool, id)
}

func getUser(ctx context.Context, q querier, id string) (domain.User, error) {
	u, err := scanUser(q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("postgres: user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// ListPositionsByUser returns the user's positions ordered by market then
// outcome.
func (s *Store) ListPositionsByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE user_id = $1 ORDER BY market_id, outcome`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions of %s: %w", userID, err)
	}
	out, err := collect(rows, scanPosition)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return out, nil
}

// ListSettlementsBefore returns unarchived settlements older than before,
// oldest first.
func (s *Store) ListSettlementsBefore(ctx context.Context, before time.Time, limit int) ([]domain.Settlement, error) {
	query := `SELECT market_id, winning_outcome, score_1, score_2, payouts, total_paid, settled_at
		FROM settlements WHERE NOT archived AND settled_at < $1 ORDER BY settled_at`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	out, err := collect(rows, func(row pgx.Row) (domain.Settlement, error) {
		var (
			st      domain.Settlement
			payouts []byte
		)
		if err := row.Scan(&st.MarketID, &st.WinningOutcome, &st.FinalScore[0], &st.FinalScore[1],
			&payouts, &st.TotalPaid, &st.SettledAt); err != nil {
			return st, err
		}
		if err := json.Unmarshal(payouts, &st.Payouts); err != nil {
			return st, fmt.Errorf("unmarshal payouts of %s: %w", st.MarketID, err)
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settlements: %w", err)
	}
	return out, nil
}

// MarkSettlementsArchived flags the settlements of the given markets.
func (s *Store) MarkSettlementsArchived(ctx context.Context, marketIDs []string) error {
	if len(marketIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE settlements SET archived = TRUE WHERE market_id = ANY($1)`, marketIDs)
	if err != nil {
		return fmt.Errorf("postgres: mark settlements archived: %w", err)
	}
	return nil
}

// WithMarket runs fn in a transaction that holds the market row lock. The
// transaction commits only when fn returns nil.
func (s *Store) WithMarket(ctx context.Context, marketID string, fn func(tx domain.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin market tx %s: %w", marketID, err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	m, err := scanMarket(pgTx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, marketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: market %s: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("postgres: lock market %s: %w", marketID, err)
	}

	if err := fn(&tx{q: pgTx, orig: m, cur: m}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit market tx %s: %w", marketID, err)
	}
	return nil
}

var _ domain.Store = (*Store)(nil)
