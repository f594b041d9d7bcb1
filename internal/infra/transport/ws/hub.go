package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatgate/internal/app/envelope"
	"chatgate/internal/app/gateway"
	"chatgate/internal/app/rooms"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

var ErrUnknownConnection = errors.New("ws: unknown connection")

// Handler consumes decoded inbound events.
type Handler interface {
	Handle(ctx context.Context, connID, event string, data json.RawMessage)
}

type ConnMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub owns live connections and the room table.
type Hub struct {
	Handler Handler
	Metrics ConnMetrics
	Logger  *slog.Logger

	upgrader websocket.Upgrader
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu    sync.RWMutex
	conns map[string]*client
	rooms map[string]map[string]struct{}
}

func NewHub(handler Handler, allowedOrigins []string, metrics ConnMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Hub{
		Handler: handler,
		Metrics: metrics,
		Logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		base:   base,
		cancel: cancel,
		conns:  make(map[string]*client),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// originChecker allows every origin when the list is empty or holds "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("ws upgrade failed", "err", err, "remote", r.RemoteAddr)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.register(c)
	defer h.unregister(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	if h.Metrics != nil {
		h.Metrics.ConnectionOpened()
	}
	h.Logger.Info("ws connected", "conn_id", c.id)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; ok {
		delete(h.conns, c.id)
		for room, members := range h.rooms {
			delete(members, c.id)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		if h.Metrics != nil {
			h.Metrics.ConnectionClosed()
		}
	}
	h.mu.Unlock()
	c.close()
	h.Logger.Info("ws disconnected", "conn_id", c.id)
}

func (h *Hub) readPump(c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Warn("ws read failed", "conn_id", c.id, "err", err)
			}
			return
		}
		var frame inbound
		if err := json.Unmarshal(raw, &frame); err != nil || strings.TrimSpace(frame.Event) == "" {
			_ = h.SendTo(c.id, gateway.EventError, envelope.Failure(http.StatusBadRequest, "malformed frame"))
			continue
		}
		if h.Handler == nil {
			continue
		}
		h.inflight.Add(1)
		go func(event string, data json.RawMessage) {
			defer h.inflight.Done()
			h.Handler.Handle(h.base, c.id, event, data)
		}(frame.Event, frame.Data)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.Logger.Warn("ws write failed", "conn_id", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// deliver queues msg on c. A client whose buffer is full is disconnected.
func (h *Hub) deliver(c *client, msg []byte) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		h.Logger.Warn("ws send buffer full, dropping connection", "conn_id", c.id)
		c.close()
	}
}

func encode(event string, payload any) ([]byte, error) {
	msg, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("ws: encode %s: %w", event, err)
	}
	return msg, nil
}

func (h *Hub) JoinRoom(connID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return ErrUnknownConnection
	}
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	return nil
}

// InRoom reports whether connID is currently a member of roomID.
func (h *Hub) InRoom(connID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][connID]
	return ok
}

func (h *Hub) BroadcastToAll(event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.deliver(c, msg)
	}
	return nil
}

func (h *Hub) BroadcastToRoom(roomID, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.deliver(c, msg)
	}
	return nil
}

func (h *Hub) SendTo(connID, event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	h.deliver(c, msg)
	return nil
}

// Connections reports the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection and waits for in-flight events.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	for _, c := range h.conns {
		c.close()
	}
	h.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	defer h.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ rooms.Transport = (*Hub)(nil)
