package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// newTestClient connects to POLYJACKET_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("POLYJACKET_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POLYJACKET_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMarketCache(t *testing.T) {
	c := newTestClient(t)
	mc := NewMarketCache(c, time.Minute)
	ctx := context.Background()
	id := "test-" + uuid.NewString()

	if _, err := mc.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	m := domain.Market{ID: id, Outcomes: domain.DefaultOutcomes, Shares: [2]float64{3, 1}, Liquidity: 100, Status: domain.MarketStatusOpen}
	if err := mc.Set(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := mc.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Shares != m.Shares || got.Status != m.Status {
		t.Fatalf("got %+v", got)
	}
	if err := mc.Invalidate(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := mc.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v after invalidate", err)
	}
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()
	key := "test-" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatal("fourth request allowed")
	}
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()
	key := "test-" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lm.Acquire(ctx, key, time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v", err)
	}
	unlock()
	unlock()
	again, err := lm.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again()
}

func TestSignalBus(t *testing.T) {
	c := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	channel := "test-" + uuid.NewString()

	sub, err := bus.Subscribe(ctx, channel)
	if err != nil {
		t.Fatal(err)
	}
	if err := bus.Publish(ctx, channel, []byte(`{"x":1}`)); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-sub:
		if string(msg) != `{"x":1}` {
			t.Fatalf("msg = %s", msg)
		}
	case <-ctx.Done():
		t.Fatal("no message")
	}

	stream := "test-stream-" + uuid.NewString()
	for _, p := range []string{"a", "b"} {
		if err := bus.StreamAppend(ctx, stream, []byte(p)); err != nil {
			t.Fatal(err)
		}
	}
	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" {
		t.Fatalf("msgs = %+v", msgs)
	}
	_ = c.Underlying().Del(ctx, stream).Err()
}
