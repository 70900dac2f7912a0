package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

const (
	// wsWriteWait is the time allowed to write a control frame.
	wsWriteWait = 10 * time.Second

	// wsReadWait bounds the silence between two frames. bookTicker streams
	// push several updates per second, and the server pings every 20s.
	wsReadWait = 60 * time.Second

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second
)

// BookTickerHandler is called for every best bid/ask update.
type BookTickerHandler func(BookTicker)

// WSClient streams bookTicker updates over one combined-stream connection.
type WSClient struct {
	baseURL string
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSClient creates a stream client.
//
// baseURL is the stream host, e.g. "wss://stream.binance.com:9443".
func NewWSClient(baseURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With(slog.String("component", "binance_ws")),
	}
}

// StreamURL returns the combined-stream URL for the given symbols.
func (w *WSClient) StreamURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@bookTicker")
	}
	return w.baseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and dispatches updates to handler until ctx is cancelled,
// reconnecting with exponential backoff after every disconnect.
func (w *WSClient) Run(ctx context.Context, symbols []string, handler BookTickerHandler) error {
	if len(symbols) == 0 {
		return fmt.Errorf("binance/ws: no symbols to subscribe")
	}
	streamURL := w.StreamURL(symbols)
	delay := wsReconnectDelay

	for {
		connected, err := w.session(ctx, streamURL, handler)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = wsReconnectDelay
		}
		w.logger.WarnContext(ctx, "stream disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}

// Close drops the current connection. Run reconnects unless its context is
// also cancelled.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait),
	)
	err := w.conn.Close()
	w.conn = nil
	return err
}

// session runs one connection until it fails. connected reports whether the
// dial succeeded, so the caller can reset its backoff.
func (w *WSClient) session(ctx context.Context, streamURL string, handler BookTickerHandler) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return false, fmt.Errorf("binance/ws: connect: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer w.Close()

	w.logger.InfoContext(ctx, "stream connected", slog.String("url", streamURL))

	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteWait))
	})

	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("%w: %w", domain.ErrWSDisconnect, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))

		tick, err := decodeBookTicker(message)
		if err != nil {
			w.logger.DebugContext(ctx, "skip stream frame", slog.String("error", err.Error()))
			continue
		}
		handler(tick)
	}
}

var errNotBookTicker = errors.New("not a bookTicker event")

// decodeBookTicker accepts both the combined-stream envelope and a raw
// bookTicker payload.
func decodeBookTicker(raw []byte) (BookTicker, error) {
	var env combinedEvent
	if err := json.Unmarshal(raw, &env); err != nil {
		return BookTicker{}, fmt.Errorf("decode frame: %w", err)
	}
	if env.Stream != "" {
		if env.Data.Symbol == "" {
			return BookTicker{}, errNotBookTicker
		}
		return env.Data, nil
	}

	var tick BookTicker
	if err := json.Unmarshal(raw, &tick); err != nil {
		return BookTicker{}, fmt.Errorf("decode frame: %w", err)
	}
	if tick.Symbol == "" {
		return BookTicker{}, errNotBookTicker
	}
	return tick, nil
}

// Quote converts the update into a domain quote for the given pair id.
func (t BookTicker) Quote(pairID int64, observedAt time.Time) (domain.Quote, error) {
	bid, err := parseDecimal(t.BidPrice)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("bid price: %w", err)
	}
	ask, err := parseDecimal(t.AskPrice)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("ask price: %w", err)
	}
	return domain.Quote{
		PairID:     pairID,
		Symbol:     t.Symbol,
		BidPrice:   bid,
		AskPrice:   ask,
		ObservedAt: observedAt,
	}, nil
}
