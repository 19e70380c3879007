package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caffeinestack/caffeinestack/server/internal/api"
	"github.com/caffeinestack/caffeinestack/server/internal/auth"
	"github.com/caffeinestack/caffeinestack/server/internal/store"
)

// Connection timing. pingEvery stays below idleLimit so a healthy peer
// always answers before its read deadline expires.
const (
	writeWait = 10 * time.Second
	idleLimit = 60 * time.Second
	pingEvery = idleLimit * 9 / 10

	queueDepth   = 16
	maxReadBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are not checked; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Source computes a user's level detail at a reference time.
type Source interface {
	Detail(ctx context.Context, userID uint, now time.Time) (*api.LevelDetail, error)
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event  string           `json:"event"`
	UserID uint             `json:"user_id"`
	Data   *api.LevelDetail `json:"data"`
}

// Hub manages WebSocket clients and pushes each one its user's level every
// interval.
type Hub struct {
	src      Source
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	userID uint
	conn   *websocket.Conn
	send   chan []byte
}

// New creates a Hub that reads levels from src and pushes every interval.
func New(src Source, interval time.Duration) *Hub {
	return &Hub{
		src:      src,
		interval: interval,
		now:      time.Now,
		clients:  make(map[*client]struct{}),
	}
}

// Run starts the push loop. It blocks until ctx is cancelled, then closes
// all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast(ctx)
		}
	}
}

// ServeHTTP validates the user_id query parameter, upgrades the connection
// and serves the client until it disconnects. The current level is sent
// immediately on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 0)
	if err != nil || id == 0 {
		writeErr(w, http.StatusBadRequest, "Missing one or more arguments")
		return
	}
	userID := uint(id)
	if caller, ok := auth.UserIDFromContext(r.Context()); ok && caller != userID {
		writeErr(w, http.StatusForbidden, "cannot read another user's level")
		return
	}

	first, err := h.buildMessage(r.Context(), userID)
	if errors.Is(err, store.ErrUserNotFound) {
		writeErr(w, http.StatusConflict,
			"Could not process request because there is no User with id = "+strconv.FormatUint(id, 10))
		return
	}
	if err != nil {
		slog.Error("stream: initial level", "user_id", userID, "err", err)
		writeErr(w, http.StatusInternalServerError, "internal server error")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, queueDepth),
	}
	c.send <- first
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

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

func (h *Hub) broadcast(ctx context.Context) {
	h.mu.RLock()
	users := make(map[uint]struct{})
	for c := range h.clients {
		users[c.userID] = struct{}{}
	}
	h.mu.RUnlock()

	payloads := make(map[uint][]byte, len(users))
	for id := range users {
		data, err := h.buildMessage(ctx, id)
		if err != nil {
			slog.Warn("stream: compute level", "user_id", id, "err", err)
			continue
		}
		payloads[id] = data
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		data, ok := payloads[c.userID]
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Debug("stream: dropping slow client", "user_id", c.userID)
		h.unregister(c)
	}
}

func (h *Hub) buildMessage(ctx context.Context, userID uint) ([]byte, error) {
	d, err := h.src.Detail(ctx, userID, h.now())
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: "level", UserID: userID, Data: d})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump owns all writes to conn: queued level messages and keepalive
// pings. A closed send channel ends the session with a close frame.
func (c *client) writePump() {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// readPump discards inbound frames so pongs are handled, returning when the
// peer goes away or stops answering pings.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxReadBytes)
	c.conn.SetReadDeadline(time.Now().Add(idleLimit))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idleLimit))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
		"error_code": code,
		"error_text": msg,
	})
}
