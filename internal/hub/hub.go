// Package hub fans row-change and presence payloads out to subscribed
// devices. Delivery is best-effort: a slow client drops messages and
// recovers on its next polling pass.
package hub

import (
	"encoding/json"
	"log"
	"sync"
)

type Subscription struct {
	OwnerID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action  string `json:"action"`
	OwnerID string `json:"owner_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

// OwnerIDs lists the distinct owner scopes with at least one subscribed
// device. The presence runner only recomputes these.
func (h *Hub) OwnerIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	var owners []string
	for _, client := range h.clients {
		id := client.Subscription.OwnerID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		owners = append(owners, id)
	}
	return owners
}

// Broadcast delivers the payload to every client subscribed to the
// owner scope, dropping it for clients whose buffer is full.
func (h *Hub) Broadcast(ownerID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.OwnerID != ownerID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

// BroadcastSessions satisfies the presence runner's sink.
func (h *Hub) BroadcastSessions(ownerID string, payload []byte) {
	h.Broadcast(ownerID, payload)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
