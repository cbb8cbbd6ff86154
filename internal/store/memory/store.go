// Package memory implements domain.Store in process memory. It backs tests
// and single-node development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

type settlementRow struct {
	s        domain.Settlement
	archived bool
}

// Store holds markets, users, positions and settlements in maps. Each market
// and each user has its own exclusive section; mu only guards the maps.
type Store struct {
	mu          sync.RWMutex
	markets     map[string]domain.Market
	users       map[string]domain.User
	positions   map[domain.PositionKey]domain.Position
	settlements map[string]settlementRow

	marketLocks *keyedMutex
	userLocks   *keyedMutex
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		markets:     make(map[string]domain.Market),
		users:       make(map[string]domain.User),
		positions:   make(map[domain.PositionKey]domain.Position),
		settlements: make(map[string]settlementRow),
		marketLocks: newKeyedMutex(),
		userLocks:   newKeyedMutex(),
	}
}

// CreateMarket inserts m. It fails with domain.ErrAlreadyExists if the id is
// taken.
func (s *Store) CreateMarket(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("memory: market %s: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.markets[m.ID] = copyMarket(m)
	return nil
}

// GetMarket returns the committed state of a market.
func (s *Store) GetMarket(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return copyMarket(m), nil
}

// ListMarkets returns markets ordered by start time, then id.
func (s *Store) ListMarkets(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	s.mu.RLock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Since != nil && m.StartsAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && m.StartsAt.After(*f.Until) {
			continue
		}
		out = append(out, copyMarket(m))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.ListOpts), nil
}

// CountMarkets returns the number of markets in each status.
func (s *Store) CountMarkets(_ context.Context) (domain.MarketCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c domain.MarketCounts
	for _, m := range s.markets {
		switch m.Status {
		case domain.MarketStatusOpen:
			c.Open++
		case domain.MarketStatusClosed:
			c.Closed++
		case domain.MarketStatusSettled:
			c.Settled++
		}
	}
	return c, nil
}

// CreateUser inserts u. It fails with domain.ErrAlreadyExists if the id is
// taken.
func (s *Store) CreateUser(_ context.Context, u domain.User) error {
	if u.Balance < 0 {
		return fmt.Errorf("memory: user %s balance %v: %w", u.ID, u.Balance, domain.ErrInsufficientBalance)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("memory: user %s: %w", u.ID, domain.ErrAlreadyExists)
	}
	s.users[u.ID] = u
	return nil
}

// GetUser returns the committed state of a user.
func (s *Store) GetUser(_ context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("memory: user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

// ListPositionsByUser returns the user's positions ordered by market then
// outcome.
func (s *Store) ListPositionsByUser(_ context.Context, userID string) ([]domain.Position, error) {
	s.mu.RLock()
	var out []domain.Position
	for k, p := range s.positions {
		if k.UserID == userID {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sortPositions(out)
	return out, nil
}

// ListSettlementsBefore returns unarchived settlements older than before.
func (s *Store) ListSettlementsBefore(_ context.Context, before time.Time, limit int) ([]domain.Settlement, error) {
	s.mu.RLock()
	var out []domain.Settlement
	for _, row := range s.settlements {
		if !row.archived && row.s.SettledAt.Before(before) {
			out = append(out, row.s)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SettledAt.Before(out[j].SettledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSettlementsArchived flags the settlements of the given markets.
func (s *Store) MarkSettlementsArchived(_ context.Context, marketIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range marketIDs {
		if row, ok := s.settlements[id]; ok {
			row.archived = true
			s.settlements[id] = row
		}
	}
	return nil
}

// WithMarket runs fn inside the market's exclusive section. Writes made
// through the Tx are staged and applied together only when fn returns nil.
func (s *Store) WithMarket(ctx context.Context, marketID string, fn func(tx domain.Tx) error) error {
	unlock, err := s.marketLocks.lock(ctx, marketID)
	if err != nil {
		return fmt.Errorf("memory: lock market %s: %w", marketID, err)
	}
	defer unlock()

	s.mu.RLock()
	m, ok := s.markets[marketID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("memory: market %s: %w", marketID, domain.ErrNotFound)
	}

	tx := newTx(s, copyMarket(m))
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.market != nil {
		s.markets[tx.market.ID] = copyMarket(*tx.market)
	}
	for id, u := range tx.users {
		s.users[id] = u
	}
	for k, p := range tx.positions {
		s.positions[k] = p
	}
	if tx.settlement != nil {
		s.settlements[tx.settlement.MarketID] = settlementRow{s: *tx.settlement}
	}
}

func copyMarket(m domain.Market) domain.Market {
	if m.FinalScore != nil {
		sc := *m.FinalScore
		m.FinalScore = &sc
	}
	return m
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].MarketID != ps[j].MarketID {
			return ps[i].MarketID < ps[j].MarketID
		}
		if ps[i].UserID != ps[j].UserID {
			return ps[i].UserID < ps[j].UserID
		}
		return ps[i].Outcome < ps[j].Outcome
	})
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.Store = (*Store)(nil)
