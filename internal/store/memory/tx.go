package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

var errUserNotLocked = errors.New("user not locked in transaction")

// tx stages writes for one WithMarket call.
type tx struct {
	store *Store
	orig  domain.Market

	market     *domain.Market
	users      map[string]domain.User
	positions  map[domain.PositionKey]domain.Position
	settlement *domain.Settlement

	locked  map[string]bool
	unlocks []func()
}

func newTx(s *Store, m domain.Market) *tx {
	return &tx{
		store:     s,
		orig:      m,
		users:     make(map[string]domain.User),
		positions: make(map[domain.PositionKey]domain.Position),
	}
}

func (t *tx) release() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
	t.unlocks = nil
}

func (t *tx) Market(_ context.Context) (domain.Market, error) {
	if t.market != nil {
		return copyMarket(*t.market), nil
	}
	return copyMarket(t.orig), nil
}

func (t *tx) PutMarket(_ context.Context, m domain.Market) error {
	if m.ID != t.orig.ID {
		return fmt.Errorf("memory: put market %s in transaction of %s", m.ID, t.orig.ID)
	}
	if !t.orig.Status.CanTransition(m.Status) {
		return fmt.Errorf("memory: market %s %s -> %s: %w", m.ID, t.orig.Status, m.Status, domain.ErrInvalidTransition)
	}
	for i := range m.Shares {
		if m.Shares[i] < t.orig.Shares[i] {
			return fmt.Errorf("memory: market %s shares of %s decreased", m.ID, m.Outcomes[i])
		}
	}
	mc := copyMarket(m)
	t.market = &mc
	return nil
}

func (t *tx) LockUsers(ctx context.Context, ids ...string) error {
	if t.locked != nil {
		return fmt.Errorf("memory: users already locked in this transaction")
	}
	uniq := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)

	t.locked = make(map[string]bool, len(uniq))
	for _, id := range uniq {
		unlock, err := t.store.userLocks.lock(ctx, id)
		if err != nil {
			return fmt.Errorf("memory: lock user %s: %w", id, err)
		}
		t.unlocks = append(t.unlocks, unlock)
		t.locked[id] = true
	}
	return nil
}

func (t *tx) GetUser(_ context.Context, id string) (domain.User, error) {
	if !t.locked[id] {
		return domain.User{}, fmt.Errorf("memory: get user %s: %w", id, errUserNotLocked)
	}
	if u, ok := t.users[id]; ok {
		return u, nil
	}
	t.store.mu.RLock()
	u, ok := t.store.users[id]
	t.store.mu.RUnlock()
	if !ok {
		return domain.User{}, fmt.Errorf("memory: user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (t *tx) PutUser(_ context.Context, u domain.User) error {
	if !t.locked[u.ID] {
		return fmt.Errorf("memory: put user %s: %w", u.ID, errUserNotLocked)
	}
	if u.Balance < 0 {
		return fmt.Errorf("memory: user %s balance %v: %w", u.ID, u.Balance, domain.ErrInsufficientBalance)
	}
	t.users[u.ID] = u
	return nil
}

func (t *tx) GetPosition(_ context.Context, userID, outcome string) (domain.Position, error) {
	k := domain.PositionKey{UserID: userID, MarketID: t.orig.ID, Outcome: outcome}
	if p, ok := t.positions[k]; ok {
		return p, nil
	}
	t.store.mu.RLock()
	p, ok := t.store.positions[k]
	t.store.mu.RUnlock()
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: position %s/%s/%s: %w", userID, t.orig.ID, outcome, domain.ErrNotFound)
	}
	return p, nil
}

func (t *tx) PutPosition(_ context.Context, p domain.Position) error {
	if p.MarketID != t.orig.ID {
		return fmt.Errorf("memory: put position of %s in transaction of %s", p.MarketID, t.orig.ID)
	}
	if _, ok := t.orig.OutcomeIndex(p.Outcome); !ok {
		return fmt.Errorf("memory: position outcome %q: %w", p.Outcome, domain.ErrInvalidOutcome)
	}
	t.positions[p.Key()] = p
	return nil
}

func (t *tx) ListPositions(_ context.Context) ([]domain.Position, error) {
	merged := make(map[domain.PositionKey]domain.Position)
	t.store.mu.RLock()
	for k, p := range t.store.positions {
		if k.MarketID == t.orig.ID {
			merged[k] = p
		}
	}
	t.store.mu.RUnlock()
	for k, p := range t.positions {
		merged[k] = p
	}
	out := make([]domain.Position, 0, len(merged))
	for _, p := range merged {
		out = append(out, p)
	}
	sortPositions(out)
	return out, nil
}

func (t *tx) PutSettlement(_ context.Context, s domain.Settlement) error {
	if s.MarketID != t.orig.ID {
		return fmt.Errorf("memory: put settlement of %s in transaction of %s", s.MarketID, t.orig.ID)
	}
	t.store.mu.RLock()
	_, exists := t.store.settlements[s.MarketID]
	t.store.mu.RUnlock()
	if exists || t.settlement != nil {
		return fmt.Errorf("memory: settlement %s: %w", s.MarketID, domain.ErrAlreadySettled)
	}
	t.settlement = &s
	return nil
}

var _ domain.Tx = (*tx)(nil)
