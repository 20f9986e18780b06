package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Subscription filters the kitchen feed by event type. An empty EventType
// receives everything.
type Subscription struct {
	EventType string
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
	Action    string `json:"action"`
	EventType string `json:"event_type"`
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

func (h *Hub) Broadcast(payload []byte, eventType string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Subscription.EventType != "" && client.Subscription.EventType != eventType {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
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
