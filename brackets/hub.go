package brackets

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Room     string
	IsClosed bool
	Mu       sync.Mutex
}

type WebSocketMessage struct {
	Type    string      `json:"type"`              // MATCH_CREATED, MATCH_UPDATED, TOURNAMENT_UPDATED, BRACKET_SNAPSHOT
	Payload interface{} `json:"payload"`           // event or bracket snapshot
	RoomID  string      `json:"room_id,omitempty"` // tournament room
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Hub keeps one room per tournament and pushes messages to connected websocket clients.
// Delivery is best effort: a client whose buffer is full misses the message and is
// expected to refetch the bracket.
type Hub struct {
	rooms  map[string]map[*Client]bool
	mu     sync.RWMutex
	done   chan struct{}
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]bool),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run blocks until ctx is cancelled, then closes every client and refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	h.closed = true
	for id, room := range h.rooms {
		for client := range room {
			client.close()
		}
		delete(h.rooms, id)
	}
	h.mu.Unlock()
	close(h.done)
	h.logger.Info("websocket hub stopped")
}

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Join adds the client to its room. The client receives every broadcast made after
// Join returns. It reports false once the hub has shut down.
func (h *Hub) Join(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, ok := h.rooms[client.Room]; !ok {
		h.rooms[client.Room] = make(map[*Client]bool)
	}
	h.rooms[client.Room][client] = true
	h.logger.Debug("client registered", slog.String("room", client.Room), slog.Int("clients", len(h.rooms[client.Room])))
	return true
}

// Leave removes the client and closes its send channel. Safe to call more than once
// and after shutdown.
func (h *Hub) Leave(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[client.Room]; ok {
		if _, okClient := room[client]; okClient {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, client.Room)
			}
		}
	}
	client.close()
	h.logger.Debug("client unregistered", slog.String("room", client.Room))
}

// BroadcastToRoom sends message to every client in roomID.
func (h *Hub) BroadcastToRoom(roomID string, message interface{}) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal room message", slog.String("room", roomID), slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	roomClients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for client := range roomClients {
		client.Mu.Lock()
		if !client.IsClosed {
			client.enqueue(messageBytes)
		}
		client.Mu.Unlock()
	}
}

// RoomSize returns the number of subscribers currently in roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Prepend puts message ahead of everything already queued for the client.
// It reports false when the client is closed.
func (c *Client) Prepend(message []byte) bool {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if c.IsClosed {
		return false
	}
	queued := make([][]byte, 0, len(c.Send))
drain:
	for {
		select {
		case m := <-c.Send:
			queued = append(queued, m)
		default:
			break drain
		}
	}
	c.enqueue(message)
	for _, m := range queued {
		c.enqueue(m)
	}
	return true
}

// enqueue must be called with c.Mu held.
func (c *Client) enqueue(message []byte) {
	select {
	case c.Send <- message:
	default:
		c.Hub.logger.Warn("client send buffer full, dropping message", slog.String("room", c.Room))
	}
}

func (c *Client) close() {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if !c.IsClosed {
		close(c.Send)
		c.IsClosed = true
	}
}

// ReadPump drains client frames (the channel is server to client only) and detects disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Leave(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("websocket closed unexpectedly", slog.String("room", c.Room), slog.Any("error", err))
			}
			return
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one event per frame so clients can decode each message independently
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.logger.Debug("websocket write failed", slog.String("room", c.Room), slog.Any("error", err))
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
