package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/lmsr"
)

func TestExecuteTradeMovesPrice(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	f.user(t, "alice", 10000)
	ctx := context.Background()

	res, err := f.engine.ExecuteTrade(ctx, "m", "alice", "home", 500)
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	if res.Prices[0] <= 0.5 || res.Prices[1] >= 0.5 {
		t.Fatalf("prices = %v", res.Prices)
	}
	if math.Abs(res.Prices[0]+res.Prices[1]-1) > 1e-9 {
		t.Fatalf("prices do not sum to 1: %v", res.Prices)
	}
	if res.NewPrice != res.Prices[0] {
		t.Fatalf("NewPrice = %v", res.NewPrice)
	}
	if c := lmsr.CostToBuy([2]float64{}, 100, 0, res.Shares); math.Abs(c-500) > lmsr.Tolerance {
		t.Fatalf("shares %v cost %v", res.Shares, c)
	}
	if got := f.balance(t, "alice"); got != 9500 {
		t.Fatalf("balance = %v", got)
	}

	m, _ := f.engine.GetMarket(ctx, "m")
	if m.Shares[0] != res.Shares || m.Shares[1] != 0 {
		t.Fatalf("market shares = %v", m.Shares)
	}
	if m.Volume != 500 {
		t.Fatalf("volume = %v", m.Volume)
	}

	ps, _ := f.engine.GetPositions(ctx, "alice")
	if len(ps) != 1 || ps[0].Shares != res.Shares || ps[0].CostBasis != 500 || ps[0].Settled {
		t.Fatalf("positions = %+v", ps)
	}
}

func TestExecuteTradeAccumulatesPosition(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	f.user(t, "alice", 10000)
	ctx := context.Background()

	first, err := f.engine.ExecuteTrade(ctx, "m", "alice", "away", 100)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.ExecuteTrade(ctx, "m", "alice", "away", 100)
	if err != nil {
		t.Fatal(err)
	}
	if second.Shares >= first.Shares {
		t.Fatalf("second trade should receive fewer shares: %v >= %v", second.Shares, first.Shares)
	}

	single := newFixture(t)
	single.market(t, "m")
	single.user(t, "bob", 10000)
	one, err := single.engine.ExecuteTrade(ctx, "m", "bob", "away", 200)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(one.Shares-(first.Shares+second.Shares)) > 1e-4 {
		t.Fatalf("single %v vs split %v", one.Shares, first.Shares+second.Shares)
	}

	ps, _ := f.engine.GetPositions(ctx, "alice")
	if len(ps) != 1 {
		t.Fatalf("positions = %+v", ps)
	}
	if ps[0].CostBasis != 200 || math.Abs(ps[0].Shares-(first.Shares+second.Shares)) > 1e-12 {
		t.Fatalf("position = %+v", ps[0])
	}
}

func TestExecuteTradePreconditions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		user    string
		outcome string
		amount  float64
		want    error
	}{
		{"zero amount", nil, "alice", "home", 0, domain.ErrInvalidAmount},
		{"negative amount", nil, "alice", "home", -3, domain.ErrInvalidAmount},
		{"nan amount", nil, "alice", "home", math.NaN(), domain.ErrInvalidAmount},
		{"invalid amount wins over invalid outcome", nil, "alice", "draw", 0, domain.ErrInvalidAmount},
		{"unknown outcome", nil, "alice", "draw", 10, domain.ErrInvalidOutcome},
		{"insufficient balance", nil, "alice", "home", 10001, domain.ErrInsufficientBalance},
		{"unknown user", nil, "nobody", "home", 10, domain.ErrNotFound},
		{"closed market", func(t *testing.T, f *fixture) {
			if _, err := f.engine.AdvanceLifecycle(ctx, "m", t0); err != nil {
				t.Fatal(err)
			}
		}, "alice", "home", 10, domain.ErrMarketNotOpen},
		{"outcome checked before status", func(t *testing.T, f *fixture) {
			if _, err := f.engine.AdvanceLifecycle(ctx, "m", t0); err != nil {
				t.Fatal(err)
			}
		}, "alice", "draw", 10, domain.ErrInvalidOutcome},
		{"settled market", func(t *testing.T, f *fixture) {
			if _, err := f.engine.AdvanceLifecycle(ctx, "m", t0); err != nil {
				t.Fatal(err)
			}
			if _, err := f.engine.SettleMarket(ctx, "m", [2]int{3, 1}); err != nil {
				t.Fatal(err)
			}
		}, "alice", "home", 10, domain.ErrMarketNotOpen},
		{"status checked before balance", func(t *testing.T, f *fixture) {
			if _, err := f.engine.AdvanceLifecycle(ctx, "m", t0); err != nil {
				t.Fatal(err)
			}
		}, "alice", "home", 1e9, domain.ErrMarketNotOpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.market(t, "m")
			f.user(t, "alice", 10000)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			before, _ := f.engine.GetMarket(ctx, "m")

			_, err := f.engine.ExecuteTrade(ctx, "m", tt.user, tt.outcome, tt.amount)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}

			after, _ := f.engine.GetMarket(ctx, "m")
			if after.Shares != before.Shares || after.Volume != before.Volume {
				t.Fatalf("market mutated: %+v -> %+v", before, after)
			}
			if got := f.balance(t, "alice"); got != 10000 {
				t.Fatalf("balance = %v", got)
			}
			ps, _ := f.engine.GetPositions(ctx, "alice")
			if len(ps) != 0 {
				t.Fatalf("positions = %+v", ps)
			}
		})
	}
}

func TestExecuteTradeUnknownMarket(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", 10)
	if _, err := f.engine.ExecuteTrade(context.Background(), "nope", "alice", "home", 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestExecuteTradeAfterStartClosesMarket(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	f.user(t, "alice", 100)
	ctx := context.Background()

	f.now = t0.Add(time.Minute)
	_, err := f.engine.ExecuteTrade(ctx, "m", "alice", "home", 10)
	if !errors.Is(err, domain.ErrMarketNotOpen) {
		t.Fatalf("got %v", err)
	}
	m, _ := f.engine.GetMarket(ctx, "m")
	if m.Status != domain.MarketStatusClosed {
		t.Fatalf("status = %s", m.Status)
	}
	if m.ClosedAt == nil || !m.ClosedAt.Equal(f.now) {
		t.Fatalf("closed_at = %v", m.ClosedAt)
	}
	if got := f.balance(t, "alice"); got != 100 {
		t.Fatalf("balance = %v", got)
	}
}

func TestExecuteTradeSpendsWholeBalance(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	f.user(t, "alice", 250)
	res, err := f.engine.ExecuteTrade(context.Background(), "m", "alice", "away", 250)
	if err != nil {
		t.Fatal(err)
	}
	if res.Balance != 0 {
		t.Fatalf("balance = %v", res.Balance)
	}
	if _, err := f.engine.ExecuteTrade(context.Background(), "m", "alice", "away", 0.01); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v", err)
	}
}

func TestConcurrentTradesSerialize(t *testing.T) {
	f := newFixture(t)
	f.market(t, "m")
	ctx := context.Background()

	const (
		users  = 8
		trades = 25
		amount = 7.0
	)
	ids := make([]string, users)
	for i := range ids {
		ids[i] = string(rune('a' + i))
		f.user(t, ids[i], 10000)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		shares [2]float64
		errs   []error
	)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcome := domain.DefaultOutcomes[i%2]
			for n := 0; n < trades; n++ {
				res, err := f.engine.ExecuteTrade(ctx, "m", id, outcome, amount)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				} else {
					shares[i%2] += res.Shares
				}
				mu.Unlock()
			}
		}(i, id)
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("trade errors: %v", errs)
	}

	m, _ := f.engine.GetMarket(ctx, "m")
	for i := range shares {
		if math.Abs(m.Shares[i]-shares[i]) > 1e-6 {
			t.Fatalf("outcome %d: market %v vs summed %v", i, m.Shares[i], shares[i])
		}
	}
	if m.Volume != users*trades*amount {
		t.Fatalf("volume = %v", m.Volume)
	}
	for _, id := range ids {
		if got := f.balance(t, id); got != 10000-trades*amount {
			t.Fatalf("balance of %s = %v", id, got)
		}
	}
}
