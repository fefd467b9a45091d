package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/LeJamon/tmsim/internal/core/consensus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4 * 1024
)

// Frame is one message on the event stream.
type Frame struct {
	Type  string          `json:"type"`
	RunID string          `json:"runId"`
	Data  consensus.Event `json:"data"`
}

// Hub relays bus events to every connected websocket client. It
// implements consensus.EventSubscriber.
type Hub struct {
	upgrader   websocket.Upgrader
	runID      string
	queueLimit int
	log        *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// NewHub creates a hub stamping frames with runID. Each client queues up
// to queueLimit frames before it is dropped as too slow.
func NewHub(runID string, queueLimit int, logger *zap.Logger) *Hub {
	if queueLimit <= 0 {
		queueLimit = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			// The stream is read-only and meant for local visualizations.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		runID:      runID,
		queueLimit: queueLimit,
		log:        logger.Named("ws"),
		clients:    make(map[string]*client),
	}
}

// OnEvent encodes the event once and queues it for every client.
func (h *Hub) OnEvent(ev consensus.Event) {
	data, err := json.Marshal(Frame{Type: ev.Type().String(), RunID: h.runID, Data: ev})
	if err != nil {
		h.log.Error("failed to marshal event", zap.Stringer("type", ev.Type()), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for _, c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow websocket client", zap.String("client", c.id))
		h.remove(c)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams frames until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, h.queueLimit),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("websocket client connected", zap.String("client", c.id), zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	if ok {
		h.log.Info("websocket client disconnected", zap.String("client", c.id))
	}
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("websocket send failed", zap.String("client", c.id), zap.Error(err))
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

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
