package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
)

var start = time.Date(2025, 1, 10, 20, 0, 0, 0, time.UTC)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMarket(id string, startsAt time.Time) domain.Market {
	return domain.Market{
		ID:        id,
		Outcomes:  domain.DefaultOutcomes,
		Liquidity: 100,
		Status:    domain.MarketStatusOpen,
		StartsAt:  startsAt,
		CreatedAt: start.Add(-time.Hour),
		UpdatedAt: start.Add(-time.Hour),
	}
}

func TestMarketRoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	m := newMarket("m", start)
	m.Title = "Owls vs Hawks"
	m.FinalScore = &[2]int{3, 1}
	if err := s.CreateMarket(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMarket(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != m.Title || got.Outcomes != m.Outcomes || got.Status != domain.MarketStatusOpen {
		t.Fatalf("market = %+v", got)
	}
	if !got.StartsAt.Equal(start) || got.FinalScore == nil || *got.FinalScore != [2]int{3, 1} {
		t.Fatalf("market = %+v", got)
	}
	if err := s.CreateMarket(ctx, m); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("got %v", err)
	}
	if _, err := s.GetMarket(ctx, "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestWithMarketRollsBackOnError(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	_ = s.CreateMarket(ctx, newMarket("m", start))
	_ = s.CreateUser(ctx, domain.User{ID: "u", Balance: 50})

	boom := errors.New("boom")
	err := s.WithMarket(ctx, "m", func(tx domain.Tx) error {
		m, _ := tx.Market(ctx)
		m.Shares[0] = 10
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		if err := tx.LockUsers(ctx, "u"); err != nil {
			return err
		}
		if err := tx.PutUser(ctx, domain.User{ID: "u", Balance: 1}); err != nil {
			return err
		}
		if err := tx.PutPosition(ctx, domain.Position{UserID: "u", MarketID: "m", Outcome: "home", Shares: 10}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}

	m, _ := s.GetMarket(ctx, "m")
	if m.Shares[0] != 0 {
		t.Fatalf("market write leaked: %v", m.Shares)
	}
	u, _ := s.GetUser(ctx, "u")
	if u.Balance != 50 {
		t.Fatalf("user write leaked: %v", u.Balance)
	}
	if ps, _ := s.ListPositionsByUser(ctx, "u"); len(ps) != 0 {
		t.Fatalf("position write leaked: %+v", ps)
	}
}

func TestTxGuards(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	_ = s.CreateMarket(ctx, newMarket("m", start))
	_ = s.CreateUser(ctx, domain.User{ID: "u", Balance: 5})

	tests := []struct {
		name string
		fn   func(tx domain.Tx) error
		want error
	}{
		{"user not locked", func(tx domain.Tx) error {
			_, err := tx.GetUser(ctx, "u")
			return err
		}, errUserNotLocked},
		{"negative balance", func(tx domain.Tx) error {
			_ = tx.LockUsers(ctx, "u")
			return tx.PutUser(ctx, domain.User{ID: "u", Balance: -1})
		}, domain.ErrInsufficientBalance},
		{"skipped status", func(tx domain.Tx) error {
			m, _ := tx.Market(ctx)
			m.Status = domain.MarketStatusSettled
			return tx.PutMarket(ctx, m)
		}, domain.ErrInvalidTransition},
		{"unknown outcome", func(tx domain.Tx) error {
			return tx.PutPosition(ctx, domain.Position{UserID: "u", MarketID: "m", Outcome: "draw"})
		}, domain.ErrInvalidOutcome},
		{"missing user", func(tx domain.Tx) error {
			_ = tx.LockUsers(ctx, "ghost")
			return tx.PutUser(ctx, domain.User{ID: "ghost", Balance: 1})
		}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.WithMarket(ctx, "m", tt.fn); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPositionUpsertAndCounts(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	for i, st := range []domain.MarketStatus{domain.MarketStatusOpen, domain.MarketStatusClosed, domain.MarketStatusClosed} {
		m := newMarket(string(rune('a'+i)), start.Add(time.Duration(i)*time.Hour))
		m.Status = st
		_ = s.CreateMarket(ctx, m)
	}
	_ = s.CreateUser(ctx, domain.User{ID: "u", Balance: 5})

	for _, shares := range []float64{1, 4} {
		err := s.WithMarket(ctx, "a", func(tx domain.Tx) error {
			return tx.PutPosition(ctx, domain.Position{UserID: "u", MarketID: "a", Outcome: "home", Shares: shares})
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	ps, _ := s.ListPositionsByUser(ctx, "u")
	if len(ps) != 1 || ps[0].Shares != 4 {
		t.Fatalf("positions = %+v", ps)
	}

	c, err := s.CountMarkets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c != (domain.MarketCounts{Open: 1, Closed: 2}) {
		t.Fatalf("counts = %+v", c)
	}
	closed, _ := s.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusClosed})
	if len(closed) != 2 || closed[0].ID != "b" {
		t.Fatalf("closed = %+v", closed)
	}
	page, _ := s.ListMarkets(ctx, domain.MarketFilter{ListOpts: domain.ListOpts{Offset: 2}})
	if len(page) != 1 || page[0].ID != "c" {
		t.Fatalf("page = %+v", page)
	}
}

func TestEngineOnSQLite(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	now := start.Add(-time.Hour)
	e := exchange.New(s).WithClock(func() time.Time { return now })

	if _, err := e.CreateMarket(ctx, domain.NewMarket{ID: "m", Liquidity: 100, StartsAt: start}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := e.CreateUser(ctx, id, 1000); err != nil {
			t.Fatal(err)
		}
	}
	ra, err := e.ExecuteTrade(ctx, "m", "a", "home", 300)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ExecuteTrade(ctx, "m", "b", "away", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := e.AdvanceLifecycle(ctx, "m", start); err != nil {
		t.Fatal(err)
	}
	payouts, err := e.SettleMarket(ctx, "m", [2]int{2, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(payouts) != 2 {
		t.Fatalf("payouts = %+v", payouts)
	}
	u, _ := e.GetUser(ctx, "a")
	if want := 700 + ra.Shares*domain.PayoutPerShare; u.Balance != want {
		t.Fatalf("a balance = %v, want %v", u.Balance, want)
	}
	if _, err := e.SettleMarket(ctx, "m", [2]int{2, 1}); !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("got %v", err)
	}

	ledger, err := s.ListSettlementsBefore(ctx, now.Add(time.Second), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 1 || len(ledger[0].Payouts) != 2 || ledger[0].WinningOutcome != "home" {
		t.Fatalf("ledger = %+v", ledger)
	}
	if err := s.MarkSettlementsArchived(ctx, []string{"m"}); err != nil {
		t.Fatal(err)
	}
	if ledger, _ = s.ListSettlementsBefore(ctx, now.Add(time.Second), 10); len(ledger) != 0 {
		t.Fatalf("archived settlement listed: %+v", ledger)
	}
}

func TestAuditStore(t *testing.T) {
	s := openTest(t)
	a := NewAuditStore(s)
	ctx := context.Background()
	if err := a.Log(ctx, "trade_executed", map[string]any{"market_id": "m"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Log(ctx, "market_settled", map[string]any{"market_id": "m"}); err != nil {
		t.Fatal(err)
	}
	entries, err := a.List(ctx, domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Event != "market_settled" || entries[1].Detail["market_id"] != "m" {
		t.Fatalf("entries = %+v", entries)
	}
}
