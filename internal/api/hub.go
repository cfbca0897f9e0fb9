package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikeyg42/circlecam/internal/state"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1 << 16
)

// Message is the websocket envelope in both directions. The server sends
// "telemetry", "params" and "error"; clients send "params".
type Message struct {
	Type   string        `json:"type"`
	Data   any           `json:"data,omitempty"`
	Params *state.Update `json:"params,omitempty"`
}

// Hub pushes telemetry to every connected UI and applies slider updates
// received from them.
type Hub struct {
	app      *state.AppState
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
}

func NewHub(app *state.AppState, allowedOrigins []string, logger *zap.Logger) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	h := &Hub{
		app:     app,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan Message, 8), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("UI connected", zap.String("remote", r.RemoteAddr))

	updates, unsubscribe := h.app.Telemetry.Subscribe()
	go h.writePump(c, updates)
	h.readPump(c)

	unsubscribe()
	h.remove(c)
	h.logger.Debug("UI disconnected", zap.String("remote", r.RemoteAddr))
}

// BroadcastParams tells every UI about a parameter change.
func (h *Hub) BroadcastParams(p state.Params) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.enqueue(Message{Type: "params", Data: p})
	}
}

// Clients is the number of connected UIs.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
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

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue drops the message when the client is not keeping up.
func (c *client) enqueue(m Message) {
	select {
	case c.send <- m:
	default:
	}
}

func (h *Hub) readPump(c *client) {
	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read failed", zap.Error(err))
			}
			return
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			c.enqueue(Message{Type: "error", Data: "malformed message"})
			continue
		}
		switch m.Type {
		case "params":
			if m.Params == nil {
				c.enqueue(Message{Type: "error", Data: "params message without params"})
				continue
			}
			p, err := h.app.Params.Apply(*m.Params)
			if err != nil {
				c.enqueue(Message{Type: "error", Data: err.Error()})
				continue
			}
			h.BroadcastParams(p)
		default:
			c.enqueue(Message{Type: "error", Data: "unknown message type " + m.Type})
		}
	}
}

// writePump is the only writer on the connection.
func (h *Hub) writePump(c *client, updates <-chan state.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close()

	c.enqueue(Message{Type: "params", Data: h.app.Params.Snapshot()})

	write := func(m Message) bool {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteJSON(m) == nil
	}

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if !write(Message{Type: "telemetry", Data: snap}) {
				return
			}
		case m := <-c.send:
			if !write(m) {
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
