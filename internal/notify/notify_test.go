package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSender struct {
	name string
	fail error

	mu     sync.Mutex
	titles []string
	bodies []string
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return s.fail
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func TestNotifierFiltersEvents(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventExecutionPartial, " error "}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), EventOpportunityDetected, "opp", "x"))
	require.NoError(t, n.Notify(context.Background(), EventExecutionPartial, "partial", "x"))
	require.NoError(t, n.Notify(context.Background(), EventError, "err", "x"))
	require.NoError(t, n.NotifyAll(context.Background(), "all", "x"))

	assert.Equal(t, []string{"partial", "err", "all"}, rec.sent())
	assert.False(t, n.Enabled(EventExecutionSettled))
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, nil, quietLogger())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, rec.sent(), 1)
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", fail: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quietLogger())

	err := n.Notify(context.Background(), EventError, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.sent(), 1, "a failing sender must not block the others")
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var got map[string][]discordEmbed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "Execution PARTIAL: manual intervention required", "run: r1\nstate: partial\nno separator")
	require.NoError(t, err)
	require.Len(t, got["embeds"], 1)
	embed := got["embeds"][0]
	assert.Equal(t, colorAlert, embed.Color)
	assert.Contains(t, embed.Description, "run: r1")
	assert.Equal(t, []discordField{
		{Name: "run", Value: "r1", Inline: true},
		{Name: "state", Value: "partial", Inline: true},
	}, embed.Fields)

	err = NewDiscordSender(srv.URL).Send(context.Background(), "Execution settled", "run: r2")
	require.NoError(t, err)
	assert.Equal(t, colorInfo, got["embeds"][0].Color)
}

func TestTelegramSenderReportsStatus(t *testing.T) {
	var path string
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["chat_id"] == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"ok":false,"description":"chat not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	require.NoError(t, NewTelegramSender("tok", "42").WithAPIBase(srv.URL).Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Contains(t, payload["text"], "*Title*")

	err := NewTelegramSender("tok", "bad").WithAPIBase(srv.URL).Send(context.Background(), "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

type chanBus struct {
	chans map[string]chan []byte
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func TestRelayForwardsExecutionEvents(t *testing.T) {
	bus := &chanBus{chans: map[string]chan []byte{
		domain.ChannelOpportunities: make(chan []byte, 4),
		domain.ChannelExecutions:    make(chan []byte, 4),
	}}
	rec := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{EventExecutionPartial, EventExecutionSettled}, quietLogger())
	relay := NewRelay(bus, n, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	opp, _ := json.Marshal(domain.OpportunityEvent{Event: EventOpportunityDetected, Cycle: "USDT>ETHUSDT:ETH>ETHUSDC:USDC"})
	partial, _ := json.Marshal(domain.ExecutionEvent{
		Event: EventExecutionPartial, RunID: "r1", State: domain.StatePartial,
		Capital: "1000", StartAsset: "USDT", Reason: "leg 2: exchange rejected order",
	})
	bus.chans[domain.ChannelOpportunities] <- opp
	bus.chans[domain.ChannelExecutions] <- partial

	require.Eventually(t, func() bool { return len(rec.sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "Execution PARTIAL: manual intervention required", rec.sent()[0])
	rec.mu.Lock()
	body := rec.bodies[0]
	rec.mu.Unlock()
	assert.Contains(t, body, "run: r1")
	assert.Contains(t, body, "capital: 1000 USDT")
	assert.Contains(t, body, "reason: leg 2")
}
