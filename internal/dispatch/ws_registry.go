package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// wsClient serializes writes; gorilla conns allow one concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

// WSRegistry pushes lifecycle events and tracking frames to websocket
// clients watching a request. Dead connections are pruned on write failure.
type WSRegistry struct {
	mu      sync.RWMutex
	clients map[string][]*wsClient // requestID -> watchers
	logger  *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{clients: make(map[string][]*wsClient), logger: logger}
}

// Attach registers a socket as a watcher of one request.
func (r *WSRegistry) Attach(requestID string, conn *websocket.Conn) {
	r.mu.Lock()
	r.clients[requestID] = append(r.clients[requestID], &wsClient{conn: conn})
	r.mu.Unlock()
}

// Detach closes and removes every watcher of a request.
func (r *WSRegistry) Detach(requestID string) {
	r.mu.Lock()
	clients := r.clients[requestID]
	delete(r.clients, requestID)
	r.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}

func (r *WSRegistry) Notify(requestID, kind string, payload any) {
	r.mu.RLock()
	clients := r.clients[requestID]
	r.mu.RUnlock()
	if len(clients) == 0 {
		return
	}
	env := Envelope{RequestID: requestID, Kind: kind, Payload: payload}
	var dead []*wsClient
	for _, c := range clients {
		if err := c.send(env); err != nil {
			r.logger.Debug("ws push failed", "request_id", requestID, "error", err)
			dead = append(dead, c)
		}
	}
	if len(dead) > 0 {
		r.prune(requestID, dead)
	}
}

func (r *WSRegistry) prune(requestID string, dead []*wsClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.clients[requestID][:0]
	for _, c := range r.clients[requestID] {
		alive := true
		for _, d := range dead {
			if c == d {
				alive = false
				break
			}
		}
		if alive {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(r.clients, requestID)
	} else {
		r.clients[requestID] = kept
	}
	for _, d := range dead {
		_ = d.conn.Close()
	}
}
