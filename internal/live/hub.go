// Package live fans out newly inserted readings to connected websocket
// clients. It supplements the dashboard's polling timer: delivery is
// at-most-once per client per reading, and a reconnecting client is
// expected to re-fetch latest/history itself rather than be replayed
// missed events.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"air-quality-backend/internal/model"
	"air-quality-backend/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating
	// the connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends ping frames. Must
	// be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is public and CORS-open; the websocket feed is no more
	// restricted than the query endpoint it mirrors.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients for every new reading.
type Message struct {
	Event string              `json:"event"`
	Data  model.SensorReading `json:"data"`
}

// Hub manages websocket client connections and broadcasts each inserted
// reading to all of them. It implements store.Notifier, so wiring it
// into the store is all the ingestion path ever sees of it.
type Hub struct {
	store store.Store

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected websocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub that reads the latest reading from s on connect.
func New(s store.Store) *Hub {
	return &Hub{
		store:   s,
		clients: make(map[*client]struct{}),
	}
}

// NotifyReading broadcasts a freshly inserted reading to every
// connected client. It never blocks: a client that cannot keep up is
// disconnected instead.
func (h *Hub) NotifyReading(r model.SensorReading) {
	data, err := json.Marshal(Message{Event: "reading", Data: r})
	if err != nil {
		return
	}

	// Sends happen under the read lock so no channel is closed out from
	// under us; unregister takes the write lock. The sends never block,
	// slow clients are dropped after the lock is released.
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		c.conn.Close()
		h.unregister(c)
	}
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to websocket and serves the
// client. The latest stored reading is sent immediately on connect so
// the dashboard has data before the first insert arrives. Blocks until
// the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}

	// Hand over the latest stored reading before the client joins the
	// broadcast set. The write pump is not running yet, so writing the
	// connection directly here is safe.
	if latest, err := h.store.LatestReading(r.Context()); err == nil && latest != nil {
		if data, err := json.Marshal(Message{Event: "reading", Data: *latest}); err == nil {
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				return
			}
		}
	}

	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to
// the websocket connection, interleaved with ping frames. Runs in its
// own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (shutdown or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection
// closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
