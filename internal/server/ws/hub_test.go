package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyjacket/internal/cache/local"
	"github.com/alanyoungcy/polyjacket/internal/domain"
)

type frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type testClient struct {
	conn   *websocket.Conn
	frames chan frame
}

func startHub(t *testing.T) (*local.Bus, *testClient) {
	t.Helper()
	bus := local.NewBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{conn: conn, frames: make(chan frame, 64)}
	go func() {
		defer close(c.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) == nil {
				c.frames <- f
			}
		}
	}()
	return bus, c
}

func (c *testClient) next(t *testing.T, timeout time.Duration) (frame, bool) {
	t.Helper()
	select {
	case f, ok := <-c.frames:
		if !ok {
			t.Fatal("connection closed")
		}
		return f, true
	case <-time.After(timeout):
		return frame{}, false
	}
}

// publishUntilSeen republishes until the client sees an event, since the hub
// subscribes to the bus asynchronously.
func publishUntilSeen(t *testing.T, bus *local.Bus, c *testClient, channel string, payload []byte) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, bus.Publish(context.Background(), channel, payload))
		if f, ok := c.next(t, 100*time.Millisecond); ok && f.Type == "event" {
			return f
		}
	}
	t.Fatalf("no event on %s", channel)
	return frame{}
}

func (c *testClient) drain(t *testing.T) {
	for {
		if _, ok := c.next(t, 50*time.Millisecond); !ok {
			return
		}
	}
}

func TestHubSendsHelloThenEvents(t *testing.T) {
	bus, c := startHub(t)

	hello, ok := c.next(t, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, "status", hello.Type)
	var status struct {
		Mode     string   `json:"mode"`
		Channels []string `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(hello.Payload, &status))
	assert.Equal(t, "server", status.Mode)
	assert.ElementsMatch(t, Channels, status.Channels)

	f := publishUntilSeen(t, bus, c, domain.ChannelTrades, []byte(`{"event":"trade_executed","market_id":"m"}`))
	assert.Equal(t, domain.ChannelTrades, f.Channel)
	assert.JSONEq(t, `{"event":"trade_executed","market_id":"m"}`, string(f.Payload))
}

func TestHubHonoursUnsubscribe(t *testing.T) {
	bus, c := startHub(t)
	_, ok := c.next(t, 2*time.Second)
	require.True(t, ok)

	publishUntilSeen(t, bus, c, domain.ChannelMarkets, []byte(`{}`))
	c.drain(t)

	require.NoError(t, c.conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelTrades, "bogus"}}))
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelTrades, []byte(`{"skip":true}`)))
	f := publishUntilSeen(t, bus, c, domain.ChannelMarkets, []byte(`{"keep":true}`))
	assert.Equal(t, domain.ChannelMarkets, f.Channel)
}
