package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"edgefleet.c2/internal/core/logger"
	"edgefleet.c2/internal/core/ports"
)

// Message is one frame on the fleet event stream.
type Message struct {
	Type    string `json:"type"`
	AgentID string `json:"agentId,omitempty"`
	Payload any    `json:"payload"`
}

// Hub fans fleet events out to websocket clients.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex

	events ports.EventSubscriber
}

func NewHub(events ports.EventSubscriber) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		events:     events,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			wsClients.Set(0)
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			wsClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			wsClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast publishes a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	h.broadcast <- msg
}

// EventConsumer forwards fleet events to connected clients until ctx is done.
func (h *Hub) EventConsumer(ctx context.Context) {
	if h.events == nil {
		return
	}
	events, err := h.events.SubscribeEvents(ctx)
	if err != nil {
		logger.Error("Failed to subscribe to fleet events", "error", err)
		return
	}

	logger.Info("Fleet event consumer started")
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				logger.Info("Fleet event channel closed, consumer exiting")
				return
			}
			select {
			case h.broadcast <- Message{Type: event.Type, AgentID: event.AgentID, Payload: event}:
			case <-ctx.Done():
				return
			case <-h.done:
				return
			}
		}
	}
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one dashboard connection. An empty filter passes everything.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	agentID string
	types   map[string]bool
}

func (c *Client) wants(m Message) bool {
	if c.agentID != "" && m.AgentID != c.agentID {
		return false
	}
	return len(c.types) == 0 || c.types[m.Type]
}

// readPump discards client frames and unregisters on disconnect.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				logger.Warn("Dropping unencodable event frame", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// ServeWs upgrades r into an event stream. Query parameters narrow it:
// agent=<id> keeps one agent's events, type=<event> (repeatable) keeps
// only those event types.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var types map[string]bool
	if ts := query["type"]; len(ts) > 0 {
		types = make(map[string]bool, len(ts))
		for _, t := range ts {
			types[t] = true
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "Websocket upgrade failed", "error", err)
		return
	}
	client := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan Message, 256),
		agentID: query.Get("agent"),
		types:   types,
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
