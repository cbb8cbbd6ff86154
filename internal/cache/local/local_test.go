package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, domain.ChannelTrades)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, domain.ChannelTrades, []byte("t1")); err != nil {
		t.Fatal(err)
	}
	_ = b.Publish(ctx, domain.ChannelMarkets, []byte("other"))

	select {
	case msg := <-sub:
		if string(msg) != "t1" {
			t.Fatalf("msg = %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message")
	}

	cancel()
	select {
	case _, ok := <-sub:
		if ok {
			t.Fatal("unexpected message after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestBusStream(t *testing.T) {
	b := NewBus()
	ctx := context.Background()
	for _, p := range []string{"a", "b", "c"} {
		_ = b.StreamAppend(ctx, "s", []byte(p))
	}
	all, _ := b.StreamRead(ctx, "s", "0", 0)
	if len(all) != 3 {
		t.Fatalf("all = %+v", all)
	}
	rest, _ := b.StreamRead(ctx, "s", all[0].ID, 1)
	if len(rest) != 1 || string(rest[0].Payload) != "b" {
		t.Fatalf("rest = %+v", rest)
	}
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := r.Allow(ctx, "k", 3, time.Second); !ok {
			t.Fatalf("request %d denied", i)
		}
	}
	if ok, _ := r.Allow(ctx, "k", 3, time.Second); ok {
		t.Fatal("burst exceeded")
	}
	if ok, _ := r.Allow(ctx, "other", 3, time.Second); !ok {
		t.Fatal("keys share a bucket")
	}
	now = now.Add(400 * time.Millisecond)
	if ok, _ := r.Allow(ctx, "k", 3, time.Second); !ok {
		t.Fatal("bucket did not refill")
	}
}

func TestLockManager(t *testing.T) {
	l := NewLockManager()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	unlock, err := l.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v", err)
	}

	now = now.Add(2 * time.Minute)
	stolen, err := l.Acquire(ctx, "sweep", time.Minute)
	if err != nil {
		t.Fatalf("expired lease not reclaimed: %v", err)
	}
	unlock() // stale holder must not release the new lease
	if _, err := l.Acquire(ctx, "sweep", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("got %v", err)
	}
	stolen()
	if _, err := l.Acquire(ctx, "sweep", time.Minute); err != nil {
		t.Fatal(err)
	}
}

func TestMarketCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewMarketCache(time.Minute)
	c.now = func() time.Time { return now }

	if _, err := c.Get(ctx, "m"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	_ = c.Set(ctx, domain.Market{ID: "m", Liquidity: 100})
	if m, err := c.Get(ctx, "m"); err != nil || m.Liquidity != 100 {
		t.Fatalf("got %+v %v", m, err)
	}

	now = now.Add(time.Minute)
	if _, err := c.Get(ctx, "m"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expired entry served: %v", err)
	}

	_ = c.Set(ctx, domain.Market{ID: "m"})
	_ = c.Invalidate(ctx, "m")
	if _, err := c.Get(ctx, "m"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("invalidated entry served: %v", err)
	}
}
