package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type client struct {
	conn   *websocket.Conn
	userID string
	role   string
	send   chan Message
}

// Hub tracks connected clients keyed by user ID. A user may hold
// several connections (desktop widget and browser at once); role is
// used for admin-wide pushes.
type Hub struct {
	mu      sync.RWMutex
	clients map[string][]*client

	onConnect    func()
	onDisconnect func()
	onMessage    func()
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string][]*client)}
}

// SetCallbacks wires metric counters without importing them here.
func (h *Hub) SetCallbacks(onConnect, onDisconnect, onMessage func()) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
	h.onMessage = onMessage
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		conn.Close()
		return
	}
	role := r.URL.Query().Get("role")

	c := &client{
		conn:   conn,
		userID: userID,
		role:   role,
		send:   make(chan Message, 256),
	}

	h.mu.Lock()
	h.clients[userID] = append(h.clients[userID], c)
	h.mu.Unlock()
	if h.onConnect != nil {
		h.onConnect()
	}
	log.Printf("WebSocket client connected: %s", userID)

	go c.writePump()
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		if h.onDisconnect != nil {
			h.onDisconnect()
		}
		log.Printf("WebSocket client disconnected: %s", c.userID)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", c.userID, err)
			}
			return
		}

		switch msg.Type {
		case "PING":
			c.send <- Message{Type: "PONG", Timestamp: time.Now().Unix()}
		default:
			log.Printf("Unknown message type from %s: %s", c.userID, msg.Type)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[c.userID]
	for i, other := range conns {
		if other == c {
			h.clients[c.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
	}
}

// SendToUser delivers a message to all of the user's connections.
// Best effort: slow clients are skipped, not waited on.
func (h *Hub) SendToUser(userID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients[userID] {
		select {
		case c.send <- msg:
			if h.onMessage != nil {
				h.onMessage()
			}
		default:
		}
	}
}

// SendToRole delivers a message to every connection registered with
// the given role.
func (h *Hub) SendToRole(role string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.clients {
		for _, c := range conns {
			if c.role != role {
				continue
			}
			select {
			case c.send <- msg:
				if h.onMessage != nil {
					h.onMessage()
				}
			default:
			}
		}
	}
}

func (h *Hub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.clients {
		for _, c := range conns {
			close(c.send)
			c.conn.Close()
		}
		delete(h.clients, userID)
	}
}
