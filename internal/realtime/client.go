package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxControlSize = 4 << 10
	outboxSize     = 32
)

// controlMessage is what clients may send: subscribe, unsubscribe or ping.
type controlMessage struct {
	Action  string   `json:"action"`
	Streams []string `json:"streams,omitempty"`
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	outbox    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:    hub,
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
	}
}

// deliver queues frame without blocking the broadcaster.
func (c *client) deliver(frame []byte) {
	select {
	case <-c.done:
	case c.outbox <- frame:
	default:
		c.hub.log.Warn("realtime client too slow, disconnecting")
		go c.close()
	}
}

func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxControlSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		c.handleControl(payload)
	}
}

func (c *client) handleControl(payload []byte) {
	var ctrl controlMessage
	if err := json.Unmarshal(payload, &ctrl); err != nil {
		c.hub.log.Debug("invalid control payload", zap.Error(err))
		return
	}

	switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
	case "subscribe":
		c.hub.subscribe(c, ctrl.Streams)
	case "unsubscribe":
		c.hub.unsubscribe(c, ctrl.Streams)
	case "ping":
		c.deliver(c.hub.pong())
	default:
		c.hub.log.Debug("unsupported control action", zap.String("action", ctrl.Action))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	for {
		var (
			kind  = websocket.TextMessage
			frame []byte
		)
		select {
		case <-c.done:
			return
		case frame = <-c.outbox:
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, frame); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.hub.remove(c)
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent closing"), deadline)
		_ = c.conn.Close()
	})
}
