// Package realtime pushes agent events to the field application over websockets.
package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/inspectsync/pkg/logger"
)

// Message is the JSON frame delivered to subscribers.
type Message struct {
	Stream string    `json:"stream,omitempty"`
	Event  string    `json:"event"`
	Data   any       `json:"data,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Hub tracks websocket clients and the streams each one listens to.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]map[string]bool
	closed   bool
	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]map[string]bool),
		log:     logger.WithModule("realtime"),
		now:     time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     sameHostOrLoopback,
		},
	}
}

// Serve upgrades the request and blocks until the client goes away. The
// client starts subscribed to streams; unknown names are ignored.
func (h *Hub) Serve(streams []string, w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "realtime hub closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = make(map[string]bool)
	h.mu.Unlock()
	h.subscribe(c, streams)

	go c.writePump()
	c.readPump()
}

// Broadcast sends event to every client subscribed to stream. Clients whose
// outbox is full are disconnected.
func (h *Hub) Broadcast(stream, event string, data any) {
	stream = normalizeStream(stream)
	frame, err := json.Marshal(Message{Stream: stream, Event: event, Data: data, SentAt: h.now().UTC()})
	if err != nil {
		h.log.Error("encode realtime event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c, streams := range h.clients {
		if streams[stream] {
			c.deliver(frame)
		}
	}
}

// Subscribers counts clients listening on stream.
func (h *Hub) Subscribers(stream string) int {
	stream = normalizeStream(stream)

	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, streams := range h.clients {
		if streams[stream] {
			count++
		}
	}
	return count
}

// Close disconnects every client and refuses new ones. http.Server.Shutdown
// does not touch hijacked connections, so the server calls this itself.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) subscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c]
	if !ok {
		return
	}
	for _, stream := range normalizeStreams(streams) {
		if !knownStream(stream) {
			h.log.Debug("ignoring unknown stream", zap.String("stream", stream))
			continue
		}
		set[stream] = true
	}
}

func (h *Hub) unsubscribe(c *client, streams []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, stream := range normalizeStreams(streams) {
		delete(h.clients[c], stream)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) pong() []byte {
	frame, _ := json.Marshal(Message{Event: "pong", SentAt: h.now().UTC()})
	return frame
}

// sameHostOrLoopback accepts requests without Origin (native clients), from
// the agent's own host, or from a loopback origin.
func sameHostOrLoopback(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if requestHost, _, err := net.SplitHostPort(r.Host); err == nil {
		if strings.EqualFold(originHost, requestHost) {
			return true
		}
	} else if strings.EqualFold(originHost, r.Host) {
		return true
	}
	return isLoopback(originHost)
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func normalizeStream(stream string) string {
	return strings.ToLower(strings.TrimSpace(stream))
}

func normalizeStreams(streams []string) []string {
	out := make([]string, 0, len(streams))
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		duplicate := false
		for _, existing := range out {
			if existing == stream {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, stream)
		}
	}
	return out
}
