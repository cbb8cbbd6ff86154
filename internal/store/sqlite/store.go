// Package sqlite implements the market store on an embedded SQLite database
// through gorm. It is meant for single-node deployments.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// Store implements domain.Store. The pool is pinned to a single connection
// so every WithMarket transaction runs alone, which also gives the
// market-then-users exclusive sections for free.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite: underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := db.WithContext(ctx).AutoMigrate(
		&marketRow{}, &userRow{}, &positionRow{}, &settlementRow{}, &auditRow{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// CreateMarket inserts m.
func (s *Store) CreateMarket(ctx context.Context, m domain.Market) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&marketRow{}).Where("id = ?", m.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("sqlite: check market %s: %w", m.ID, err)
		}
		if n > 0 {
			return fmt.Errorf("sqlite: market %s: %w", m.ID, domain.ErrAlreadyExists)
		}
		row := toMarketRow(m)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("sqlite: create market %s: %w", m.ID, err)
		}
		return nil
	})
}

// GetMarket returns the committed state of a market.
func (s *Store) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	return getMarket(s.db.WithContext(ctx), id)
}

func getMarket(db *gorm.DB, id string) (domain.Market, error) {
	var row marketRow
	err := db.Where("id = ?", id).Take(&row).Error
	if notFound(err) {
		return domain.Market{}, fmt.Errorf("sqlite: market %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Market{}, fmt.Errorf("sqlite: get market %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// ListMarkets returns markets ordered by start time, then id.
func (s *Store) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	q := s.db.WithContext(ctx).Model(&marketRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Since != nil {
		q = q.Where("starts_at >= ?", *f.Since)
	}
	if f.Until != nil {
		q = q.Where("starts_at <= ?", *f.Until)
	}
	q = q.Order("starts_at, id")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			q = q.Limit(-1)
		}
		q = q.Offset(f.Offset)
	}

	var rows []marketRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list markets: %w", err)
	}
	out := make([]domain.Market, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// CountMarkets returns the number of markets in each status.
func (s *Store) CountMarkets(ctx context.Context) (domain.MarketCounts, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&marketRow{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return domain.MarketCounts{}, fmt.Errorf("sqlite: count markets: %w", err)
	}
	var c domain.MarketCounts
	for _, r := range rows {
		switch domain.MarketStatus(r.Status) {
		case domain.MarketStatusOpen:
			c.Open = r.N
		case domain.MarketStatusClosed:
			c.Closed = r.N
		case domain.MarketStatusSettled:
			c.Settled = r.N
		}
	}
	return c, nil
}

// CreateUser inserts u.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	if u.Balance < 0 {
		return fmt.Errorf("sqlite: user %s balance %v: %w", u.ID, u.Balance, domain.ErrInsufficientBalance)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&userRow{}).Where("id = ?", u.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("sqlite: check user %s: %w", u.ID, err)
		}
		if n > 0 {
			return fmt.Errorf("sqlite: user %s: %w", u.ID, domain.ErrAlreadyExists)
		}
		row := userRow{ID: u.ID, Balance: u.Balance, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("sqlite: create user %s: %w", u.ID, err)
		}
		return nil
	})
}

// GetUser returns the committed state of a user.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(s.db.WithContext(ctx), id)
}

func getUser(db *gorm.DB, id string) (domain.User, error) {
	var row userRow
	err := db.Where("id = ?", id).Take(&row).Error
	if notFound(err) {
		return domain.User{}, fmt.Errorf("sqlite: user %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlite: get user %s: %w", id, err)
	}
	return row.toDomain(), nil
}

// ListPositionsByUser returns the user's positions ordered by market then
// outcome.
func (s *Store) ListPositionsByUser(ctx context.Context, userID string) ([]domain.Position, error) {
	var rows []positionRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("market_id, outcome").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions of %s: %w", userID, err)
	}
	out := make([]domain.Position, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// ListSettlementsBefore returns unarchived settlements older than before,
// oldest first.
func (s *Store) ListSettlementsBefore(ctx context.Context, before time.Time, limit int) ([]domain.Settlement, error) {
	q := s.db.WithContext(ctx).Where("archived = ? AND settled_at < ?", false, before).Order("settled_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []settlementRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlite: list settlements: %w", err)
	}
	out := make([]domain.Settlement, 0, len(rows))
	for _, r := range rows {
		st, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("sqlite: decode settlement %s: %w", r.MarketID, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// MarkSettlementsArchived flags the settlements of the given markets.
func (s *Store) MarkSettlementsArchived(ctx context.Context, marketIDs []string) error {
	if len(marketIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&settlementRow{}).
		Where("market_id IN ?", marketIDs).Update("archived", true).Error
	if err != nil {
		return fmt.Errorf("sqlite: mark settlements archived: %w", err)
	}
	return nil
}

// WithMarket runs fn in a database transaction. The transaction commits only
// when fn returns nil.
func (s *Store) WithMarket(ctx context.Context, marketID string, fn func(tx domain.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		m, err := getMarket(gtx, marketID)
		if err != nil {
			return err
		}
		return fn(&tx{db: gtx, orig: m, cur: m})
	})
}

var _ domain.Store = (*Store)(nil)
