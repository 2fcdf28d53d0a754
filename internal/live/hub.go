// Package live pushes change events to websocket subscribers so clients can
// keep a query result current without polling.
package live

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erazemk/ferme/internal/metrics"
)

// Collections that publish events.
const (
	CollectionFarms         = "fermes"
	CollectionStocks        = "stocks"
	CollectionTransfers     = "stock_transfers"
	CollectionNotifications = "transfer_notifications"
	CollectionWorkers       = "workers"
)

// Operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event describes a committed change to one record.
type Event struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	ID         string    `json:"id"`
	FarmIDs    []string  `json:"ferme_ids,omitempty"`
	At         time.Time `json:"at"`
}

// Subscriber describes what one connection wants to receive.
type Subscriber struct {
	FarmID      string
	AllFarms    bool
	Collections []string // empty means every collection
}

func (s Subscriber) wants(ev Event) bool {
	if len(s.Collections) > 0 && !slices.Contains(s.Collections, ev.Collection) {
		return false
	}
	if s.AllFarms || len(ev.FarmIDs) == 0 {
		return true
	}
	return slices.Contains(ev.FarmIDs, s.FarmID)
}

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type client struct {
	conn *websocket.Conn
	sub  Subscriber
	send chan Event
}

// Hub fans events out to connected subscribers.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		clients:  make(map[*client]struct{}),
	}
}

// Publish delivers ev to every interested subscriber. Slow subscribers whose
// buffer is full are disconnected.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.sub.wants(ev) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			slog.Warn("dropping slow live subscriber", "farm", c.sub.FarmID)
			h.removeLocked(c)
		}
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.LiveSubscribers.Dec()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// Serve upgrades the request to a websocket and streams matching events
// until the client disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sub Subscriber) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, sub: sub, send: make(chan Event, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	metrics.LiveSubscribers.Inc()
	h.mu.Unlock()

	go c.writeLoop()

	// Incoming frames are ignored; reading surfaces disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
