package gateway

import (
	"sync"
	"time"
)

// idleAfter marks a client idle once its last activity is older than this.
const idleAfter = 5 * time.Minute

// ClientRegistry tracks connected clients by id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
}

func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Touch records activity for a client, resetting its idle clock.
func (r *ClientRegistry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[id]; ok {
		client.LastActivity = time.Now()
	}
}

// All returns every connected client, authenticated or not.
func (r *ClientRegistry) All() []*Client {
	return r.collect(func(*Client) bool { return true })
}

// Authenticated returns the clients eligible for broadcasts.
func (r *ClientRegistry) Authenticated() []*Client {
	return r.collect(func(c *Client) bool { return c.Authenticated })
}

func (r *ClientRegistry) collect(keep func(*Client) bool) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		if keep(client) {
			matched = append(matched, client)
		}
	}
	return matched
}

// Infos snapshots per-client status for the status surface.
func (r *ClientRegistry) Infos() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:            client.ID,
			Authenticated: client.Authenticated,
			ConnectedAt:   client.ConnectedAt,
			LastActivity:  client.LastActivity,
			IPAddress:     client.IPAddress,
			Idle:          now.Sub(client.LastActivity) > idleAfter,
		})
	}
	return infos
}
