package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/agora/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	recentEvents = 100
	sendBuffer   = 32
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Hub fans events out to websocket clients and keeps the latest ones for polling
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	recent   []domain.Event
	upgrader websocket.Upgrader
}

type client struct {
	person uuid.UUID
	send   chan domain.Event
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Notify records the event and hands it to every subscribed client. Clients
// that do not keep up lose the event instead of blocking the caller.
func (h *Hub) Notify(ctx context.Context, e domain.Event) error {
	h.mu.Lock()
	h.recent = append(h.recent, e)
	if len(h.recent) > recentEvents {
		h.recent = h.recent[len(h.recent)-recentEvents:]
	}
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !visibleTo(&e, c.person) {
			continue
		}
		select {
		case c.send <- e:
		default:
			log.Warnf("Notify: Client for %s is too slow, dropped %s", c.person, e.Kind)
		}
	}
	return nil
}

// Recent returns the retained events, newest last. A non-nil person limits
// the result to events addressed to them.
func (h *Hub) Recent(person uuid.UUID) []domain.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Event, 0, len(h.recent))
	for i := range h.recent {
		if visibleTo(&h.recent[i], person) {
			out = append(out, h.recent[i])
		}
	}
	return out
}

// visibleTo filters events for a subscriber. Without a person only public
// events are visible.
func visibleTo(e *domain.Event, person uuid.UUID) bool {
	if person == uuid.Nil {
		return !e.IsPrivate()
	}
	return e.IsFor(person)
}

// Clients returns the number of connected websocket clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events as JSON text frames until
// the client goes away. The optional person query parameter filters events;
// private message events are only streamed to a matching person.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	var person uuid.UUID
	if p := r.URL.Query().Get("person"); p != "" {
		id, err := uuid.Parse(p)
		if err != nil {
			http.Error(w, "invalid person id", http.StatusBadRequest)
			return
		}
		person = id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Notify: Upgrade failed: %v", err)
		return
	}

	c := &client{person: person, send: make(chan domain.Event, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	log.Debugf("Notify: Client connected (person=%s)", person)

	ctx, cancel := context.WithCancel(r.Context())
	go h.readLoop(conn, cancel)
	h.writeLoop(ctx, conn, c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	conn.Close()
	log.Debugf("Notify: Client disconnected (person=%s)", person)
}

// readLoop drains control frames and cancels the writer once the peer closes
func (h *Hub) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				log.Debugf("Notify: Write failed: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
