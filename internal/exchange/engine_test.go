package exchange

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
	"github.com/alanyoungcy/polyjacket/internal/store/memory"
)

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), now: t0.Add(-time.Hour)}
	f.engine = New(f.store).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) market(t *testing.T, id string) domain.Market {
	t.Helper()
	m, err := f.engine.CreateMarket(context.Background(), domain.NewMarket{
		ID:        id,
		GameID:    id,
		Title:     "Wolfpack vs Tigers",
		Sport:     "basketball",
		Liquidity: 100,
		StartsAt:  t0,
	})
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	return m
}

func (f *fixture) user(t *testing.T, id string, balance float64) {
	t.Helper()
	if _, err := f.engine.CreateUser(context.Background(), id, balance); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, id string) float64 {
	t.Helper()
	u, err := f.engine.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	return u.Balance
}

func TestCreateMarketDefaults(t *testing.T) {
	f := newFixture(t)
	m := f.market(t, "market_1")
	if m.Status != domain.MarketStatusOpen {
		t.Fatalf("status = %s", m.Status)
	}
	if m.Outcomes != domain.DefaultOutcomes {
		t.Fatalf("outcomes = %v", m.Outcomes)
	}
	if m.Shares != [2]float64{} {
		t.Fatalf("shares = %v", m.Shares)
	}
	p, err := f.engine.GetPrice(context.Background(), "market_1", "home")
	if err != nil {
		t.Fatal(err)
	}
	if p != 0.5 {
		t.Fatalf("price = %v", p)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []struct {
		name string
		nm   domain.NewMarket
		want error
	}{
		{"empty id", domain.NewMarket{Liquidity: 100, StartsAt: t0}, domain.ErrInvalidMarket},
		{"zero liquidity", domain.NewMarket{ID: "m", StartsAt: t0}, domain.ErrInvalidMarket},
		{"nan liquidity", domain.NewMarket{ID: "m", Liquidity: math.NaN(), StartsAt: t0}, domain.ErrInvalidMarket},
		{"duplicate outcomes", domain.NewMarket{ID: "m", Outcomes: [2]string{"a", "a"}, Liquidity: 1, StartsAt: t0}, domain.ErrInvalidMarket},
		{"one empty outcome", domain.NewMarket{ID: "m", Outcomes: [2]string{"a", ""}, Liquidity: 1, StartsAt: t0}, domain.ErrInvalidMarket},
		{"no start", domain.NewMarket{ID: "m", Liquidity: 1}, domain.ErrInvalidMarket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.engine.CreateMarket(ctx, tt.nm); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	f.market(t, "dup")
	if _, err := f.engine.CreateMarket(ctx, domain.NewMarket{ID: "dup", Liquidity: 1, StartsAt: t0}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
}

func TestGetPriceUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	if _, err := f.engine.GetPrice(context.Background(), "m", "draw"); !errors.Is(err, domain.ErrInvalidOutcome) {
		t.Fatalf("got %v", err)
	}
	if _, err := f.engine.GetPrice(context.Background(), "missing", "home"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestQuoteDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	q, err := f.engine.Quote(context.Background(), "m", "away", 250)
	if err != nil {
		t.Fatal(err)
	}
	if q.Shares <= 0 || q.PriceAfter <= 0.5 {
		t.Fatalf("quote = %+v", q)
	}
	m, _ := f.engine.GetMarket(context.Background(), "m")
	if m.Shares != [2]float64{} || m.Volume != 0 {
		t.Fatalf("market mutated by quote: %+v", m)
	}
	if _, err := f.engine.Quote(context.Background(), "m", "away", 0); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.CreateUser(ctx, "", 10); !errors.Is(err, domain.ErrInvalidUser) {
		t.Fatalf("got %v", err)
	}
	if _, err := f.engine.CreateUser(ctx, "u", -1); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v", err)
	}
	f.user(t, "u", 10)
	if _, err := f.engine.CreateUser(ctx, "u", 10); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("got %v", err)
	}
}

func TestPricesStaySumToOneAfterTrades(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	f.user(t, "u", 1e6)
	ctx := context.Background()
	for i, amt := range []float64{10, 500, 3, 7000, 42} {
		outcome := domain.DefaultOutcomes[i%2]
		if _, err := f.engine.ExecuteTrade(ctx, "m", "u", outcome, amt); err != nil {
			t.Fatalf("trade %d: %v", i, err)
		}
	}
	m, _ := f.engine.GetMarket(ctx, "m")
	p := lmsr.Prices(m.Shares, m.Liquidity)
	if math.Abs(p[0]+p[1]-1) > 1e-9 {
		t.Fatalf("prices = %v", p)
	}
}
