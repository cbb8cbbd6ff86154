package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyjacket/internal/cache/local"
	"github.com/alanyoungcy/polyjacket/internal/domain"
	"github.com/alanyoungcy/polyjacket/internal/exchange"
	"github.com/alanyoungcy/polyjacket/internal/notify"
	"github.com/alanyoungcy/polyjacket/internal/store/memory"
)

var kickoff = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

type recordSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordSender) Name() string { return "record" }

type harness struct {
	now      time.Time
	engine   *exchange.Engine
	store    *memory.Store
	bus      *local.Bus
	audit    *memory.AuditStore
	sender   *recordSender
	markets  *MarketService
	prices   *PriceService
	trades   *TradeService
	settle   *SettlementService
	users    *UserService
	position *PositionService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		now:    kickoff.Add(-time.Hour),
		store:  memory.New(),
		bus:    local.NewBus(),
		audit:  memory.NewAuditStore(),
		sender: &recordSender{},
	}
	h.engine = exchange.New(h.store).WithClock(func() time.Time { return h.now })
	cache := local.NewMarketCache(time.Minute)
	n := notify.NewNotifier([]notify.Sender{h.sender}, nil, logger)

	h.markets = NewMarketService(h.engine, cache, h.bus, h.audit, logger)
	h.prices = NewPriceService(h.markets, h.engine)
	h.trades = NewTradeService(h.engine, cache, h.bus, h.audit, n, logger)
	h.settle = NewSettlementService(h.engine, cache, h.bus, h.audit, n, logger)
	h.users = NewUserService(h.engine, domain.DefaultStartingBalance, logger)
	h.position = NewPositionService(h.engine, h.markets, logger)
	return h
}

func (h *harness) market(t *testing.T, id string, startsAt time.Time) {
	t.Helper()
	_, err := h.markets.CreateMarket(context.Background(), domain.NewMarket{
		ID: id, GameID: id, Title: "Owls vs Hawks", Sport: "basketball", Liquidity: 100, StartsAt: startsAt,
	})
	require.NoError(t, err)
}

func (h *harness) auditEvents(t *testing.T) []string {
	t.Helper()
	entries, err := h.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	var out []string
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i].Event)
	}
	return out
}

func TestMarketServiceCacheFollowsTrades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.market(t, "m", kickoff)
	_, err := h.users.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	before, err := h.prices.GetPrice(ctx, "m", "home")
	require.NoError(t, err)
	assert.Equal(t, 0.5, before)

	_, err = h.trades.Execute(ctx, "m", "alice", "home", 500)
	require.NoError(t, err)

	after, err := h.prices.GetPrice(ctx, "m", "home")
	require.NoError(t, err)
	assert.Greater(t, after, 0.5, "cached snapshot must not outlive a trade")

	both, err := h.prices.GetPrices(ctx, "m")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, both[0].Price+both[1].Price, 1e-9)
	assert.Equal(t, "away", both[1].Outcome)

	_, err = h.prices.GetPrice(ctx, "m", "draw")
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestTradePublishesEvent(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.market(t, "m", kickoff)
	_, _ = h.users.GetOrCreate(ctx, "alice")

	sub, err := h.bus.Subscribe(ctx, domain.ChannelTrades)
	require.NoError(t, err)

	res, err := h.trades.Execute(ctx, "m", "alice", "away", 100)
	require.NoError(t, err)

	select {
	case msg := <-sub:
		assert.Contains(t, string(msg), `"event":"trade_executed"`)
		assert.Contains(t, string(msg), `"market_id":"m"`)
		assert.NotContains(t, string(msg), "alice")
	case <-time.After(time.Second):
		t.Fatal("no trade event")
	}
	assert.Equal(t, domain.DefaultStartingBalance-100, res.Balance)
	assert.Contains(t, h.auditEvents(t), "trade.executed")
}

func TestTradeRejectionsPassThrough(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.market(t, "m", kickoff)
	_, _ = h.users.GetOrCreate(ctx, "alice")

	_, err := h.trades.Execute(ctx, "m", "alice", "home", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.trades.Execute(ctx, "m", "alice", "home", 1e9)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// warm the cache, then let the game start
	_, err = h.markets.GetMarket(ctx, "m")
	require.NoError(t, err)
	h.now = kickoff
	_, err = h.trades.Execute(ctx, "m", "alice", "home", 10)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)

	m, err := h.markets.GetMarket(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, m.Status, "stale open snapshot served")
	assert.Empty(t, h.sender.titles)
}

func TestUserGetOrCreate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	u, err := h.users.GetOrCreate(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultStartingBalance, u.Balance)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.users.GetOrCreate(ctx, "carol")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err = h.users.Get(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSweepLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.market(t, "early", kickoff)
	h.market(t, "late", kickoff.Add(24*time.Hour))

	sub, err := h.bus.Subscribe(ctx, domain.ChannelMarkets)
	require.NoError(t, err)

	n, err := h.markets.SweepLifecycle(ctx, kickoff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.markets.SweepLifecycle(ctx, kickoff.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "sweep is idempotent")

	select {
	case msg := <-sub:
		assert.Contains(t, string(msg), `"event":"market_closed"`)
		assert.Contains(t, string(msg), `"market_id":"early"`)
	case <-time.After(time.Second):
		t.Fatal("no market event")
	}

	list, err := h.markets.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusOpen})
	require.NoError(t, err)
	require.Len(t, list.Markets, 1)
	assert.Equal(t, "late", list.Markets[0].ID)
	assert.Equal(t, domain.MarketCounts{Open: 1, Closed: 1}, list.Counts)
}

func TestSweepSettlements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.market(t, "won", kickoff)
	h.market(t, "tied", kickoff)
	h.market(t, "pending", kickoff)
	_, _ = h.users.GetOrCreate(ctx, "alice")

	res, err := h.trades.Execute(ctx, "won", "alice", "home", 300)
	require.NoError(t, err)

	_, err = h.markets.SweepLifecycle(ctx, kickoff)
	require.NoError(t, err)
	_, err = h.markets.RecordScore(ctx, "won", [2]int{50, 40})
	require.NoError(t, err)
	_, err = h.markets.RecordScore(ctx, "tied", [2]int{3, 3})
	require.NoError(t, err)

	n, err := h.settle.SweepSettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u, err := h.users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.InDelta(t, domain.DefaultStartingBalance-300+res.Shares*domain.PayoutPerShare, u.Balance, 1e-9)

	tied, err := h.markets.GetMarket(ctx, "tied")
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusClosed, tied.Status)
	assert.ElementsMatch(t, []string{"Market settled", "Tied score"}, h.sender.titles)

	n, err = h.settle.SweepSettlements(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	history, next, err := h.settle.History(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "won", history[0].MarketID)
	assert.Equal(t, "home", history[0].WinningOutcome)
	more, _, err := h.settle.History(ctx, next, 10)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestSettleOpenMarketRejected(t *testing.T) {
	h := newHarness(t)
	h.market(t, "m", kickoff)
	_, err := h.settle.Settle(context.Background(), "m", [2]int{1, 0})
	assert.True(t, errors.Is(err, domain.ErrMarketNotClosed))
}

func TestPortfolio(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.market(t, "a", kickoff)
	h.market(t, "b", kickoff.Add(48*time.Hour))
	_, _ = h.users.GetOrCreate(ctx, "alice")

	ra, err := h.trades.Execute(ctx, "a", "alice", "away", 200)
	require.NoError(t, err)
	rb, err := h.trades.Execute(ctx, "b", "alice", "home", 100)
	require.NoError(t, err)

	_, err = h.markets.AdvanceLifecycle(ctx, "a", kickoff)
	require.NoError(t, err)
	_, err = h.settle.Settle(ctx, "a", [2]int{10, 20})
	require.NoError(t, err)

	p, err := h.position.Portfolio(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, p.Settled, 1)
	require.Len(t, p.Open, 1)

	assert.InDelta(t, ra.Shares*domain.PayoutPerShare, p.Settled[0].CurrentValue, 1e-9)
	open := p.Open[0]
	assert.Equal(t, "b", open.MarketID)
	assert.InDelta(t, rb.Shares*rb.NewPrice*domain.PayoutPerShare, open.CurrentValue, 1e-9)
	assert.InDelta(t, rb.Shares*domain.PayoutPerShare, open.PotentialReturn, 1e-9)
	assert.InDelta(t, p.Balance+open.CurrentValue, p.TotalValue, 1e-9)

	_, err = h.position.Portfolio(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
