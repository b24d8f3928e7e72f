package progress

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client is one subscriber, filtered to a single ScheduleId.
type client struct {
	scheduleID string
	send       chan Message
}

// Hub maintains WebSocket subscribers and fans broadcast messages out
// to whichever of them match a message's ScheduleId, adapted from the
// teacher's WebSocketHub to a single-topic-per-run model.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	messages   chan Message
}

func newHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		messages:   make(chan Message, 256),
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = map[*client]bool{}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.messages:
			h.mu.RLock()
			for c := range h.clients {
				if c.scheduleID != msg.ScheduleID {
					continue
				}
				select {
				case c.send <- msg:
				default:
					h.logger.Warn().Str("schedule_id", c.scheduleID).Msg("progress: slow subscriber, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	select {
	case h.messages <- msg:
	default:
		h.logger.Warn().Str("schedule_id", msg.ScheduleID).Msg("progress: hub queue full, dropping message")
	}
}

// serveWS upgrades the request and streams messages for scheduleID
// until the connection closes.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, scheduleID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	c := &client{scheduleID: scheduleID, send: make(chan Message, 32)}
	h.register <- c
	defer func() { h.unregister <- c }()

	go readLoop(conn)

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
			if msg.Done {
				return nil
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// readLoop discards client frames but detects disconnects so the write
// side's WriteJSON eventually errors out and the handler returns.
func readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
