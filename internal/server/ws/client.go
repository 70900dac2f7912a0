package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxControlSize = 4096
	sendBuffer     = 256
)

// control is a subscription change sent by a client:
//
//	{"action":"unsubscribe","channels":["opportunities"]}
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// controlReply acknowledges a control message with the resulting channel
// set and any names that are not relayed.
type controlReply struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Unknown  []string `json:"unknown,omitempty"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte

	mu       sync.RWMutex
	channels map[string]bool

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, remote string) *client {
	c := &client{
		hub:      h,
		conn:     conn,
		remote:   remote,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool, len(relayed)),
		done:     make(chan struct{}),
	}
	for _, ch := range relayed {
		c.channels[ch] = true
	}
	return c
}

func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// enqueue queues f without blocking and reports whether it fit.
func (c *client) enqueue(f []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// close detaches the client from the hub and stops writeLoop, which sends
// a close frame and drops the connection. Safe to call repeatedly.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.remove(c)
	})
}

func (c *client) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxControlSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("ws: read ended", slog.String("remote", c.remote), slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if json.Unmarshal(raw, &msg) != nil || (msg.Action != "subscribe" && msg.Action != "unsubscribe") {
			continue
		}
		c.apply(msg)
	}
}

// apply changes the subscription set and acknowledges it.
func (c *client) apply(msg control) {
	reply := controlReply{Action: msg.Action}

	c.mu.Lock()
	for _, ch := range msg.Channels {
		if !slices.Contains(relayed, ch) {
			reply.Unknown = append(reply.Unknown, ch)
			continue
		}
		c.channels[ch] = msg.Action == "subscribe"
	}
	for _, ch := range relayed {
		if c.channels[ch] {
			reply.Channels = append(reply.Channels, ch)
		}
	}
	c.mu.Unlock()

	if reply.Channels == nil {
		reply.Channels = []string{}
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if f, err := encodeFrame(controlChannel, data); err == nil {
		c.enqueue(f)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
