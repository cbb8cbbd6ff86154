package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSender struct {
	name   string
	err    error
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recordSender) Name() string { return r.name }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventMarketSettled, " "}, quiet)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, EventMarketSettled, "settled", "m"))
	require.NoError(t, n.Notify(ctx, EventArchiveCompleted, "archived", "5"))
	assert.Equal(t, []string{"settled"}, s.titles)
}

func TestNotifierEmptyFilterForwardsAll(t *testing.T) {
	s := &recordSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quiet)
	require.NoError(t, n.Notifyf(context.Background(), EventIngestFailed, "ingest", "%d games", 3))
	assert.Len(t, s.titles, 1)
}

func TestNotifierCollectsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordSender{name: "bad", err: boom}
	good := &recordSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quiet)

	err := n.Notify(context.Background(), EventSettlementFailed, "t", "m")
	require.ErrorIs(t, err, boom)
	assert.Len(t, good.titles, 1, "later senders still run")
}

func TestNilNotifier(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(context.Background(), EventMarketSettled, "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Settled", "market_1 paid 1000"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Settled*\nmarket_1 paid 1000", got["text"])
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
