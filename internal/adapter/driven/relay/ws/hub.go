package ws

import (
	"sync"

	"github.com/Wyydra/yacall/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Hub is the relay side of the signaling channel: every frame a client
// sends is fanned out to every attached client, the sender included.
// The hub never looks inside a frame.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]bool
	metrics *metrics.Metrics

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		metrics:    m,
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
				h.metrics.ClientDetached()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.metrics.ClientAttached()
			log.Info().Str("client_id", client.ID()).Msg("Client registered")

		case client := <-h.unregister:
			h.drop(client)

		case frame := <-h.broadcast:
			h.metrics.Relayed()
			h.mu.Lock()
			var slow []*Client
			for client := range h.clients {
				if !client.enqueue(frame) {
					slow = append(slow, client)
				}
			}
			h.mu.Unlock()
			for _, client := range slow {
				log.Warn().Str("client_id", client.ID()).Msg("Client too slow, disconnecting")
				h.drop(client)
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if ok {
		client.close()
		h.metrics.ClientDetached()
		log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
	}
}

// Broadcast queues frame for fan-out. It drops the frame when the hub is
// saturated.
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	case <-h.quit:
	default:
		log.Warn().Msg("Broadcast channel full, dropping frame")
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		c.close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
