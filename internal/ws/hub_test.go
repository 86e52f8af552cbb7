package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rasuna-dev/backend-antar/internal/events"
)

// mockClient creates a client for testing without a real connection.
func mockClient(hub *Hub, deliveryID uuid.UUID) *Client {
	return &Client{
		hub:        hub,
		deliveryID: deliveryID,
		send:       make(chan []byte, 256),
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHubRegistration(t *testing.T) {
	hub := startHub(t)

	deliveryID := uuid.New()
	client := mockClient(hub, deliveryID)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if hub.rooms[deliveryID] == nil {
		t.Fatal("delivery room not created")
	}
	if !hub.rooms[deliveryID][client] {
		t.Fatal("client not registered in delivery room")
	}
}

func TestHubUnregistrationCleansRoom(t *testing.T) {
	hub := startHub(t)

	deliveryID := uuid.New()
	client := mockClient(hub, deliveryID)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	defer hub.mu.RUnlock()

	if hub.rooms[deliveryID] != nil {
		t.Fatal("delivery room not cleaned up after last client unregistered")
	}
}

func TestBroadcastReachesOnlyItsRoom(t *testing.T) {
	hub := startHub(t)

	delivery1 := uuid.New()
	delivery2 := uuid.New()

	client1 := mockClient(hub, delivery1)
	client2 := mockClient(hub, delivery2)

	hub.register <- client1
	hub.register <- client2
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(delivery1, "location_updated", map[string]any{"lat": -6.2, "lng": 106.8})

	select {
	case msg := <-client1.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if received.Type != "location_updated" {
			t.Errorf("expected type 'location_updated', got '%s'", received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client1 did not receive message")
	}

	select {
	case <-client2.send:
		t.Fatal("client2 should not have received message for a different delivery")
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestBroadcastFansOutWithinRoom(t *testing.T) {
	hub := startHub(t)

	deliveryID := uuid.New()
	clients := []*Client{
		mockClient(hub, deliveryID),
		mockClient(hub, deliveryID),
		mockClient(hub, deliveryID),
	}
	for _, c := range clients {
		hub.register <- c
	}
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(deliveryID, "status_changed", map[string]any{"to": "picked_up"})

	for i, client := range clients {
		select {
		case msg := <-client.send:
			var received Event
			if err := json.Unmarshal(msg, &received); err != nil {
				t.Fatalf("client%d: failed to unmarshal: %v", i+1, err)
			}
			if received.Type != "status_changed" {
				t.Errorf("client%d: expected type 'status_changed', got '%s'", i+1, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("client%d did not receive message", i+1)
		}
	}
}

func TestNotifyRelaysStatusEvents(t *testing.T) {
	hub := startHub(t)

	deliveryID := uuid.New()
	client := mockClient(hub, deliveryID)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	ev := events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicDeliveryStatusChanged,
		AggregateID: deliveryID,
		Payload:     json.RawMessage(`{"from":"assigned","to":"on_route_to_vendor"}`),
	}
	if err := hub.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case msg := <-client.send:
		var received Event
		if err := json.Unmarshal(msg, &received); err != nil {
			t.Fatalf("failed to unmarshal message: %v", err)
		}
		if received.Type != "status_changed" {
			t.Errorf("expected type 'status_changed', got '%s'", received.Type)
		}
		if string(received.Payload) != string(ev.Payload) {
			t.Errorf("expected payload '%s', got '%s'", ev.Payload, received.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive relayed event")
	}
}

func TestNotifyIgnoresDriverEvents(t *testing.T) {
	hub := startHub(t)

	deliveryID := uuid.New()
	client := mockClient(hub, deliveryID)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	ev := events.Event{
		ID:          uuid.New(),
		Topic:       events.TopicDriverOffline,
		AggregateID: deliveryID,
		Payload:     json.RawMessage(`{}`),
	}
	if err := hub.Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case <-client.send:
		t.Fatal("driver events should not be relayed to delivery rooms")
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := mockClient(hub, uuid.New())
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Fatal("expected send channel to be closed, got a message")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed after shutdown")
	}
}
