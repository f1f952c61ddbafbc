// Package websocket streams flow events to UI clients so banners and modals
// can react without polling.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahakalaqua/visitor-tracker/internal/service/tracking"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// same-site UI; origin checks happen at the CORS layer
		return true
	},
}

// Hub fans flow events out to connected clients. It implements
// tracking.EventSink; Publish never blocks the coordinator.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast chan tracking.Event
	done      chan struct{}
	closeOnce sync.Once
}

type client struct {
	conn      *websocket.Conn
	send      chan tracking.Event
	visitorID string
}

// NewHub creates an event hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:    logger,
		clients:   make(map[*client]struct{}),
		broadcast: make(chan tracking.Event, 64),
		done:      make(chan struct{}),
	}
}

// Run pumps broadcast events until the context ends
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Publish queues an event for delivery. Drops the event if the hub is
// saturated rather than stalling the caller.
func (h *Hub) Publish(event tracking.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("event hub saturated, dropping event",
			zap.String("type", string(event.Type)))
	}
}

// Close shuts the hub down
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeWS upgrades the connection and subscribes it to the visitor's events
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, visitorID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan tracking.Event, sendBufferSize),
		visitorID: visitorID,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) deliver(event tracking.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.visitorID != event.VisitorID {
			continue
		}
		select {
		case c.send <- event:
		default:
			// slow client; skip rather than block the hub
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
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

func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
	h.clients = make(map[*client]struct{})
}
