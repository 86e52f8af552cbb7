package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rasuna-dev/backend-antar/internal/events"
	"github.com/rasuna-dev/backend-antar/internal/obs"
)

// Event is the wire frame sent to subscribers of a delivery room.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomEvent struct {
	DeliveryID uuid.UUID
	Event      Event
}

// Hub tracks live subscribers per delivery and fans events out to them.
type Hub struct {
	// Registered clients by delivery ID.
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEvent

	mu  sync.RWMutex
	log zerolog.Logger
}

// NewHub creates a hub. Call Run in a goroutine before serving connections.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, 256),
		log:        logger.With().Str("component", "ws").Logger(),
	}
}

// Run processes registrations and broadcasts until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.deliveryID] == nil {
				h.rooms[client.deliveryID] = make(map[*Client]bool)
			}
			h.rooms[client.deliveryID][client] = true
			h.mu.Unlock()
			h.countSubscriber(1)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.deliveryID]; ok {
				if _, exists := clients[client]; exists {
					h.drop(client)
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.DeliveryID]

			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the room.
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes the client and cleans up its room. Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.rooms[client.deliveryID], client)
	close(client.send)
	if len(h.rooms[client.deliveryID]) == 0 {
		delete(h.rooms, client.deliveryID)
	}
	h.countSubscriber(-1)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			close(client.send)
			h.countSubscriber(-1)
		}
	}
	h.rooms = make(map[uuid.UUID]map[*Client]bool)
}

// Broadcast sends an event to every subscriber of the delivery room. The
// payload is marshalled to JSON; unmarshalable payloads are dropped.
func (h *Hub) Broadcast(deliveryID uuid.UUID, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn().Err(err).Str("event", event).Msg("encode broadcast payload")
		return
	}
	h.broadcast <- &roomEvent{
		DeliveryID: deliveryID,
		Event:      Event{Type: event, Payload: raw},
	}
}

// Notify relays delivery status events to the delivery's room. Events whose
// aggregate is not a delivery are ignored.
func (h *Hub) Notify(_ context.Context, ev events.Event) error {
	switch ev.Topic {
	case events.TopicDeliveryAssigned, events.TopicDeliveryStatusChanged:
		h.broadcast <- &roomEvent{
			DeliveryID: ev.AggregateID,
			Event:      Event{Type: "status_changed", Payload: ev.Payload},
		}
	}
	return nil
}

func (h *Hub) countSubscriber(delta float64) {
	if obs.TrackingSubscribers != nil {
		obs.TrackingSubscribers.Add(delta)
	}
}
