package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore reads and creates markets outside of a market transaction.
type MarketStore interface {
	CreateMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]Market, error)
	CountMarkets(ctx context.Context) (MarketCounts, error)
}

// UserStore creates and reads users outside of a market transaction.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
}

// PositionReader lists positions across markets.
type PositionReader interface {
	ListPositionsByUser(ctx context.Context, userID string) ([]Position, error)
}

// SettlementStore exposes the settlement ledger for archival.
type SettlementStore interface {
	ListSettlementsBefore(ctx context.Context, before time.Time, limit int) ([]Settlement, error)
	MarkSettlementsArchived(ctx context.Context, marketIDs []string) error
}

// Tx is a unit of work scoped to one market. Every write made through a Tx is
// applied together when the enclosing WithMarket callback returns nil, and
// discarded otherwise.
type Tx interface {
	// Market returns the scoped market as of the start of the transaction
	// plus any writes already made through this Tx.
	Market(ctx context.Context) (Market, error)
	PutMarket(ctx context.Context, m Market) error

	// LockUsers acquires the exclusive sections of the given users. It may
	// be called at most once per transaction.
	LockUsers(ctx context.Context, ids ...string) error
	GetUser(ctx context.Context, id string) (User, error)
	PutUser(ctx context.Context, u User) error

	GetPosition(ctx context.Context, userID, outcome string) (Position, error)
	PutPosition(ctx context.Context, p Position) error
	ListPositions(ctx context.Context) ([]Position, error)

	PutSettlement(ctx context.Context, s Settlement) error
}

// Store is the persistence contract of the market engine.
type Store interface {
	MarketStore
	UserStore
	PositionReader
	SettlementStore

	// WithMarket runs fn inside the exclusive section of the market. It
	// returns ErrNotFound if the market does not exist.
	WithMarket(ctx context.Context, marketID string, fn func(tx Tx) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
