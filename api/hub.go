package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridgeci/ridgeline/queue"
)

const maxWSConnections = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stageCounts is pushed to every connected dashboard client.
type stageCounts struct {
	Waiting   int       `json:"waiting"`
	Blocked   int       `json:"blocked"`
	Buildable int       `json:"buildable"`
	Pending   int       `json:"pending"`
	At        time.Time `json:"at"`
}

// Hub broadcasts queue-depth-by-stage to every connected WebSocket
// client on a ticker, reading directly off the queue's bounded
// snapshot rather than a separate dashboard service.
type Hub struct {
	q *queue.BuildQueue

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewHub builds a Hub reading stage counts from q.
func NewHub(q *queue.BuildQueue) *Hub {
	return &Hub{
		q:          q,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case conn := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				conn.Close()
				continue
			}
			h.clients[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) broadcast() {
	counts := h.snapshot()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(counts); err != nil {
			log.Printf("api: websocket write error: %v", err)
			go func(c *websocket.Conn) { h.unregister <- c }(conn)
		}
	}
}

func (h *Hub) snapshot() stageCounts {
	counts := stageCounts{At: time.Now()}
	for _, it := range h.q.ApproximateItems() {
		switch it.Stage() {
		case queue.StageWaiting:
			counts.Waiting++
		case queue.StageBlocked:
			counts.Blocked++
		case queue.StageBuildable:
			counts.Buildable++
		case queue.StagePending:
			counts.Pending++
		}
	}
	return counts
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}
	h.register <- conn
}
