// Package ws streams opportunity and execution events to dashboard clients
// over websockets.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camilosanchezdev/cryptobae-triangular-api/internal/domain"
)

// statusChannel carries the hello frame; controlChannel answers
// subscription changes.
const (
	statusChannel  = "status"
	controlChannel = "control"
)

// relayed are the bus channels a client may subscribe to. New clients start
// subscribed to all of them.
var relayed = []string{domain.ChannelOpportunities, domain.ChannelExecutions}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware and the API key.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Subscriber is the subscribe half of domain.SignalBus.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// History returns the newest n entries of a stream, oldest first.
type History interface {
	StreamTail(ctx context.Context, stream string, n int) ([]domain.StreamMessage, error)
}

// Config describes the process to clients and the optional replay.
type Config struct {
	Mode      string
	StartedAt time.Time
	// History, when set, replays the last Replay opportunities to each new
	// client after the status frame.
	History History
	Replay  int
}

// frame is what clients receive. Data is the bus payload untouched.
type frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func encodeFrame(channel string, data []byte) ([]byte, error) {
	return json.Marshal(frame{Channel: channel, Data: data})
}

type event struct {
	channel string
	payload []byte
}

// Hub fans bus events out to connected clients. A client that cannot keep
// up is disconnected; it reconnects and gets the replay.
type Hub struct {
	bus     Subscriber
	cfg     Config
	logger  *slog.Logger
	events  chan event
	stopped chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub fed by bus. Run must be started before clients
// connect.
func NewHub(bus Subscriber, logger *slog.Logger, cfg Config) *Hub {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode == "" {
		cfg.Mode = "unknown"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ws_hub")),
		events:  make(chan event, 256),
		stopped: make(chan struct{}),
		clients: make(map[*client]struct{}),
	}
}

// Run relays bus events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for _, ch := range relayed {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			h.logger.Error("ws: subscribe failed", slog.String("channel", ch), slog.String("error", err.Error()))
			continue
		}
		go h.pump(ctx, ch, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// pump moves one bus subscription onto the hub's event queue.
func (h *Hub) pump(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.events <- event{channel: channel, payload: p}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) deliver(ev event) {
	f, err := encodeFrame(ev.channel, ev.payload)
	if err != nil {
		h.logger.Warn("ws: payload is not json", slog.String("channel", ev.channel))
		return
	}

	h.mu.Lock()
	var slow []*client
	for c := range h.clients {
		if c.wants(ev.channel) && !c.enqueue(f) {
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("ws: disconnecting slow client", slog.String("remote", c.remote))
		c.close()
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Info("ws: client connected", slog.String("remote", c.remote), slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.logger.Info("ws: client disconnected", slog.String("remote", c.remote), slog.Int("clients", len(h.clients)))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	close(h.stopped)
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, r.RemoteAddr)
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	c.enqueue(h.statusFrame())
	h.replay(r.Context(), c)

	go c.writeLoop()
	go c.readLoop()
}

// statusFrame tells a new client what it is connected to.
func (h *Hub) statusFrame() []byte {
	data, _ := json.Marshal(map[string]any{
		"mode":           h.cfg.Mode,
		"uptime_seconds": max(int64(time.Since(h.cfg.StartedAt).Seconds()), 0),
		"channels":       relayed,
	})
	f, _ := encodeFrame(statusChannel, data)
	return f
}

// replay queues recent opportunities so a reconnecting dashboard is not
// empty until the next detection.
func (h *Hub) replay(ctx context.Context, c *client) {
	if h.cfg.History == nil || h.cfg.Replay <= 0 {
		return
	}
	msgs, err := h.cfg.History.StreamTail(ctx, domain.StreamOpportunities, h.cfg.Replay)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		f, err := encodeFrame(domain.ChannelOpportunities, m.Payload)
		if err != nil {
			continue
		}
		if !c.enqueue(f) {
			return
		}
	}
}
