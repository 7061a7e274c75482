package services

import (
	"sync"

	"amigo/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is the live connection handle for one user.
type Client struct {
	UserID string
	Send   chan []byte

	conn       *websocket.Conn
	registered bool

	mu     sync.Mutex
	closed bool
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Send:   make(chan []byte, 64),
		conn:   conn,
	}
}

// Deliver queues an outbound event on the client's send channel. The send
// never blocks: a full buffer or a closed client drops the event, which
// the relay treats the same as an offline recipient.
func (c *Client) Deliver(event string, data interface{}) bool {
	raw, err := Encode(event, data)
	if err != nil {
		return false
	}
	return c.deliverRaw(raw)
}

func (c *Client) deliverRaw(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- raw:
		metrics.EventsDelivered.Inc()
		return true
	default:
		return false
	}
}

// Close shuts the send channel exactly once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Registry is the process-wide presence table: user ID to at most one live
// connection handle. Authoritative only for the current process.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Register upserts the user's connection handle. A previous handle for the
// same user is replaced and closed, not queued. The registering client gets
// the current set of online user IDs; everyone else gets user-online.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	old := r.clients[c.UserID]
	r.clients[c.UserID] = c
	c.registered = true
	others := r.snapshotLocked(c.UserID)
	online := make([]string, 0, len(r.clients))
	for id := range r.clients {
		online = append(online, id)
	}
	r.mu.Unlock()

	if old != nil && old != c {
		old.Close()
	}

	c.Deliver(EvActiveUsers, ActiveUsersPayload{UserIDs: online})
	for _, other := range others {
		other.Deliver(EvUserOnline, UserEventPayload{UserID: c.UserID})
	}

	metrics.ConnectedClients.Set(float64(len(online)))
	r.log.Info("client registered", zap.String("user_id", c.UserID))
}

// Unregister removes the client's entry and broadcasts user-offline. It
// returns the freed user ID, or false if this handle was not the registered
// one (duplicate disconnect, or already replaced by a newer connection).
func (r *Registry) Unregister(c *Client) (string, bool) {
	r.mu.Lock()
	current, ok := r.clients[c.UserID]
	if !ok || current != c {
		r.mu.Unlock()
		c.Close()
		return "", false
	}
	delete(r.clients, c.UserID)
	remaining := r.snapshotLocked("")
	count := len(r.clients)
	r.mu.Unlock()

	c.Close()
	for _, other := range remaining {
		other.Deliver(EvUserOffline, UserEventPayload{UserID: c.UserID})
	}

	metrics.ConnectedClients.Set(float64(count))
	r.log.Info("client unregistered", zap.String("user_id", c.UserID))
	return c.UserID, true
}

// Resolve returns the live handle for a user, or nil when offline.
// Resolution failure is not an error.
func (r *Registry) Resolve(userID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[userID]
}

// Online returns the IDs of all currently registered users.
func (r *Registry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// snapshotLocked copies all clients except the excluded user. Delivery
// happens outside the lock.
func (r *Registry) snapshotLocked(except string) []*Client {
	out := make([]*Client, 0, len(r.clients))
	for id, cl := range r.clients {
		if id == except {
			continue
		}
		out = append(out, cl)
	}
	return out
}
