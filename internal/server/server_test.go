package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/handler"
	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/server/ws"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingLimiter struct {
	mu    sync.Mutex
	seen  map[string]int
	limit int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = limit
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

func (l *countingLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

type staticVaults struct{}

func (staticVaults) Vaults(context.Context) ([]domain.Vault, error) {
	return []domain.Vault{{Asset: "USDT", Amount: decimal.NewFromInt(1000)}}, nil
}
func (staticVaults) Movements(context.Context, string, domain.ListOpts) ([]domain.VaultMovement, error) {
	return nil, nil
}
func (staticVaults) Deposit(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (staticVaults) Withdraw(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (staticVaults) ResetVaults(context.Context, map[string]decimal.Decimal) ([]domain.Vault, error) {
	return nil, nil
}

func testHandler(apiKey string, limiter domain.RateLimiter, perMin int) http.Handler {
	handlers := Handlers{
		Health: handler.NewHealthHandler(nil, discardLogger()),
		Vaults: handler.NewVaultHandler(staticVaults{}, discardLogger()),
	}
	cfg := Config{APIKey: apiKey, CORSOrigins: []string{"http://localhost:5173"}, RateLimitPerMin: perMin}
	return NewHandler(cfg, handlers, nil, limiter, discardLogger())
}

func TestAuth(t *testing.T) {
	h := testHandler("secret", nil, 0)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{name: "health is public", path: "/api/health", want: http.StatusOK},
		{name: "missing token", path: "/api/vaults", want: http.StatusUnauthorized},
		{name: "wrong token", path: "/api/vaults", header: map[string]string{"X-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "bearer", path: "/api/vaults", header: map[string]string{"Authorization": "Bearer secret"}, want: http.StatusOK},
		{name: "api key header", path: "/api/vaults", header: map[string]string{"X-API-Key": "secret"}, want: http.StatusOK},
		{name: "query token only on ws", path: "/api/vaults?token=secret", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := testHandler("secret", nil, 0)

	req := httptest.NewRequest(http.MethodOptions, "/api/vaults", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/vaults", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{seen: map[string]int{}}
	h := testHandler("", limiter, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/vaults", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.7, 172.16.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 3, limiter.seen["api:10.0.0.7"])

	// health is never counted
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type chanBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
	up   chan struct{}
}

func newChanBus() *chanBus {
	return &chanBus{subs: map[string]chan []byte{}, up: make(chan struct{}, 8)}
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 4)
	b.subs[channel] = ch
	b.up <- struct{}{}
	return ch, nil
}

func (b *chanBus) send(channel string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] <- payload
}

func TestHubRelaysBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	hub := ws.NewHub(bus, discardLogger(), ws.Config{Mode: "full"})
	go hub.Run(ctx)
	for i := 0; i < 2; i++ {
		<-bus.up
	}

	srv := httptest.NewServer(NewHandler(Config{APIKey: "secret"}, Handlers{}, hub, nil, discardLogger()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=secret"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	type frame struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}

	var status frame
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "status", status.Channel)
	assert.Contains(t, string(status.Data), `"mode":"full"`)

	bus.send(domain.ChannelExecutions, []byte(`{"event":"execution_settled","run_id":"run-1"}`))

	var got frame
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, domain.ChannelExecutions, got.Channel)
	assert.JSONEq(t, `{"event":"execution_settled","run_id":"run-1"}`, string(got.Data))

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "channels": []string{domain.ChannelExecutions, "bogus"}}))
	var ack frame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "control", ack.Channel)
	assert.JSONEq(t, `{"action":"unsubscribe","channels":["`+domain.ChannelOpportunities+`"],"unknown":["bogus"]}`, string(ack.Data))

	bus.send(domain.ChannelExecutions, []byte(`{"run_id":"skipped"}`))
	bus.send(domain.ChannelOpportunities, []byte(`{"id":"opp-2"}`))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, domain.ChannelOpportunities, got.Channel, "unsubscribed channel is not delivered")
}

type fixedHistory []domain.StreamMessage

func (h fixedHistory) StreamTail(_ context.Context, stream string, n int) ([]domain.StreamMessage, error) {
	if stream != domain.StreamOpportunities {
		return nil, nil
	}
	return h[max(len(h)-n, 0):], nil
}

func TestHubReplaysRecentOpportunities(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newChanBus()
	history := fixedHistory{
		{ID: "1-0", Payload: []byte(`{"id":"a"}`)},
		{ID: "2-0", Payload: []byte(`{"id":"b"}`)},
		{ID: "3-0", Payload: []byte(`{"id":"c"}`)},
	}
	hub := ws.NewHub(bus, discardLogger(), ws.Config{Mode: "monitor", History: history, Replay: 2})
	go hub.Run(ctx)
	for i := 0; i < 2; i++ {
		<-bus.up
	}

	srv := httptest.NewServer(NewHandler(Config{}, Handlers{}, hub, nil, discardLogger()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frames []string
	for i := 0; i < 3; i++ {
		var f struct {
			Channel string          `json:"channel"`
			Data    json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f.Channel+" "+string(f.Data))
	}
	assert.True(t, strings.HasPrefix(frames[0], "status "))
	assert.Equal(t, []string{"opportunities " + `{"id":"b"}`, "opportunities " + `{"id":"c"}`}, frames[1:])
}
